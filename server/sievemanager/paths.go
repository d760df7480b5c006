package sievemanager

import (
	"path/filepath"
	"strings"

	"github.com/grufocom/postsible/consts"
	"github.com/grufocom/postsible/helpers"
)

const (
	sieveDirName  = "sieve"
	signatureFile = "signature.txt"
	vacationFile  = "vacation.json"
	scriptFile    = "main.filterscript"
	compiledFile  = "main.compiled"
	activePointer = ".active-filter"
	dirPerm       = 0700
	filePerm      = 0600
)

type mailboxPaths struct {
	email     string
	domainDir string
	home      string
	sieveDir  string
	signature string
	vacation  string
	script    string
	compiled  string
	pointer   string
}

// pointerTarget is relative to the mailbox home so the tree can be moved.
var pointerTarget = filepath.Join(sieveDirName, compiledFile)

func (m *Manager) paths(email string) (mailboxPaths, error) {
	addr, err := helpers.NewAddress(email)
	if err != nil {
		return mailboxPaths{}, &consts.ValidationError{Field: "email", Reason: err.Error()}
	}
	local, domain := addr.LocalPart(), addr.Domain()
	for _, part := range []string{local, domain} {
		if part == "." || part == ".." || strings.ContainsAny(part, `/\`) || strings.ContainsRune(part, 0) {
			return mailboxPaths{}, &consts.ValidationError{Field: "email", Reason: "address cannot be mapped to a mailbox directory"}
		}
	}

	domainDir := filepath.Join(m.basePath, domain)
	home := filepath.Join(domainDir, local)
	sieveDir := filepath.Join(home, sieveDirName)
	return mailboxPaths{
		email:     addr.FullAddress(),
		domainDir: domainDir,
		home:      home,
		sieveDir:  sieveDir,
		signature: filepath.Join(sieveDir, signatureFile),
		vacation:  filepath.Join(sieveDir, vacationFile),
		script:    filepath.Join(sieveDir, scriptFile),
		compiled:  filepath.Join(sieveDir, compiledFile),
		pointer:   filepath.Join(home, activePointer),
	}, nil
}
