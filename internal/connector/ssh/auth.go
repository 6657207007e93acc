package ssh

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// Credential is one of Password, KeyFile or SystemDefault.
type Credential interface {
	credential()
	// Kind names the variant for logging. It never includes secret material.
	Kind() string
}

// Password authenticates with a pre-resolved password.
type Password struct {
	Secret string
}

// KeyFile authenticates with a private key read from Path.
type KeyFile struct {
	Path       string
	Passphrase string
}

// SystemDefault discovers credentials from the SSH agent and the default
// key locations under ~/.ssh.
type SystemDefault struct{}

func (Password) credential()      {}
func (KeyFile) credential()       {}
func (SystemDefault) credential() {}

// Kind implements Credential.
func (Password) Kind() string { return "password" }

// Kind implements Credential.
func (KeyFile) Kind() string { return "key_file" }

// Kind implements Credential.
func (SystemDefault) Kind() string { return "system_default" }

// defaultKeyFiles are tried in order under ~/.ssh for SystemDefault.
var defaultKeyFiles = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// authMethods builds the auth methods for a credential. The returned closer
// releases the agent connection, if one was opened, and is never nil.
func authMethods(cred Credential) ([]gossh.AuthMethod, func() error, error) {
	noop := func() error { return nil }

	switch c := cred.(type) {
	case KeyFile:
		signer, err := loadSigner(c.Path, c.Passphrase)
		if err != nil {
			return nil, noop, err
		}
		return []gossh.AuthMethod{gossh.PublicKeys(signer)}, noop, nil

	case Password:
		return []gossh.AuthMethod{
			gossh.Password(c.Secret),
			gossh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Secret
				}
				return answers, nil
			}),
		}, noop, nil

	case SystemDefault, nil:
		return ambientMethods()

	default:
		return nil, noop, fmt.Errorf("unsupported credential type %T", cred)
	}
}

// ambientMethods combines agent signers and unencrypted default keys into a
// single publickey method, since the client only tries each method name once.
func ambientMethods() ([]gossh.AuthMethod, func() error, error) {
	var signers []gossh.Signer
	closer := func() error { return nil }

	var agentClient agent.ExtendedAgent
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			agentClient = agent.NewClient(conn)
			closer = conn.Close
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		for _, name := range defaultKeyFiles {
			signer, err := loadSigner(filepath.Join(home, ".ssh", name), "")
			if err != nil {
				continue
			}
			signers = append(signers, signer)
		}
	}

	callback := func() ([]gossh.Signer, error) {
		all := make([]gossh.Signer, 0, len(signers))
		if agentClient != nil {
			if fromAgent, err := agentClient.Signers(); err == nil {
				all = append(all, fromAgent...)
			}
		}
		return append(all, signers...), nil
	}

	return []gossh.AuthMethod{gossh.PublicKeysCallback(callback)}, closer, nil
}

func loadSigner(path, passphrase string) (gossh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key %s: %w", path, err)
	}

	var signer gossh.Signer
	if passphrase != "" {
		signer, err = gossh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	} else {
		signer, err = gossh.ParsePrivateKey(key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", path, err)
	}
	return signer, nil
}
