package consts

// MigrationAdvisoryLockID is the PostgreSQL advisory lock held while the
// admin tool applies schema migrations, so two instances never migrate at once.
const MigrationAdvisoryLockID = 58214093

// MySQLMigrationLockName is the GET_LOCK name used for the same purpose on MySQL.
const MySQLMigrationLockName = "postsible_migrate"
