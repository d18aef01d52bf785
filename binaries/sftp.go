package binaries

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHOptions configures how SFTP sources authenticate.
type SSHOptions struct {
	// KeyFile is the path to a private key; Password doubles as its
	// passphrase when the key is encrypted.
	KeyFile string

	// Password authenticates directly when no key file is given.
	Password string

	// KnownHostsFile verifies host keys. When empty, host keys are not
	// verified.
	KnownHostsFile string
}

// DefaultSSHOptions is used by the NewSource factory. The daemon sets it
// from configuration at startup.
var DefaultSSHOptions = SSHOptionsFromEnv()

// SSHOptionsFromEnv reads SSH settings from PLASTROND_SSH_KEY,
// PLASTROND_SSH_PASSWORD, and PLASTROND_SSH_KNOWN_HOSTS.
func SSHOptionsFromEnv() SSHOptions {
	return SSHOptions{
		KeyFile:        os.Getenv("PLASTROND_SSH_KEY"),
		Password:       os.Getenv("PLASTROND_SSH_PASSWORD"),
		KnownHostsFile: os.Getenv("PLASTROND_SSH_KNOWN_HOSTS"),
	}
}

func buildSSHConfig(user string, opts SSHOptions) (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	if opts.KeyFile != "" {
		key, err := os.ReadFile(opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key file: %w", err)
		}

		var signer ssh.Signer
		if opts.Password != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(opts.Password))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	if opts.Password != "" && opts.KeyFile == "" {
		authMethods = append(authMethods, ssh.Password(opts.Password))
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no SSH authentication method configured (need KeyFile or Password)")
	}

	var hostKeyCallback ssh.HostKeyCallback
	if opts.KnownHostsFile != "" {
		var err error
		hostKeyCallback, err = knownhosts.New(opts.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts file: %w", err)
		}
	} else {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
	}, nil
}

// SFTPSource reads a binary over SFTP from a URL of the form
// sftp://user@host[:port]/path.
type SFTPSource struct {
	rawurl string
	host   string
	user   string
	path   string
	opts   SSHOptions

	mu         sync.Mutex
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

// NewSFTPSource parses the URL and returns a source; the connection is
// established lazily on first use.
func NewSFTPSource(rawurl string, opts SSHOptions) (*SFTPSource, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("invalid SFTP URL %q: %w", rawurl, err)
	}
	if u.Scheme != "sftp" {
		return nil, fmt.Errorf("not an SFTP URL: %q", rawurl)
	}
	if u.User == nil || u.User.Username() == "" {
		return nil, fmt.Errorf("SFTP URL %q has no username", rawurl)
	}

	host := u.Host
	if u.Port() == "" {
		host += ":22"
	}
	if pw, ok := u.User.Password(); ok && opts.Password == "" {
		opts.Password = pw
	}

	return &SFTPSource{
		rawurl: rawurl,
		host:   host,
		user:   u.User.Username(),
		path:   u.Path,
		opts:   opts,
	}, nil
}

func (s *SFTPSource) connect() (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sftpClient != nil {
		return s.sftpClient, nil
	}

	sshConfig, err := buildSSHConfig(s.user, s.opts)
	if err != nil {
		return nil, err
	}

	sshClient, err := ssh.Dial("tcp", s.host, sshConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH server %s: %w", s.host, err)
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("failed to start SFTP subsystem on %s: %w", s.host, err)
	}

	s.sshClient = sshClient
	s.sftpClient = sftpClient
	return sftpClient, nil
}

// runRemote executes a command on the remote host and returns its stdout.
func (s *SFTPSource) runRemote(command string) (string, error) {
	if _, err := s.connect(); err != nil {
		return "", err
	}

	s.mu.Lock()
	sshClient := s.sshClient
	s.mu.Unlock()

	session, err := sshClient.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open SSH session on %s: %w", s.host, err)
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	if err := session.Run(command); err != nil {
		return "", fmt.Errorf("remote command %q failed on %s: %w", command, s.host, err)
	}
	return strings.TrimSpace(out.String()), nil
}

// Name returns the remote file's base name.
func (s *SFTPSource) Name() string {
	return path.Base(s.path)
}

// Open opens the remote file for reading.
func (s *SFTPSource) Open() (io.ReadCloser, error) {
	client, err := s.connect()
	if err != nil {
		return nil, err
	}
	f, err := client.Open(s.path)
	if os.IsNotExist(err) {
		return nil, &NotFoundError{Location: s.rawurl}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.rawurl, err)
	}
	return f, nil
}

// Exists reports whether the remote file is present.
func (s *SFTPSource) Exists() (bool, error) {
	client, err := s.connect()
	if err != nil {
		return false, err
	}
	_, err = client.Stat(s.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", s.rawurl, err)
	}
	return true, nil
}

// MimeType resolves the MIME type by extension, asking the remote host's
// file(1) when the extension is unknown.
func (s *SFTPSource) MimeType() (string, error) {
	if mt := mime.TypeByExtension(path.Ext(s.path)); mt != "" {
		if i := strings.Index(mt, ";"); i >= 0 {
			mt = mt[:i]
		}
		return mt, nil
	}

	out, err := s.runRemote(fmt.Sprintf("file --mime-type -b %q", s.path))
	if err == nil && out != "" {
		return out, nil
	}
	return detectMimeType(s.Name(), s.Open)
}

// Digest asks the remote host for a sha1sum, streaming the file locally
// when the remote command is unavailable.
func (s *SFTPSource) Digest() (string, error) {
	out, err := s.runRemote(fmt.Sprintf("sha1sum %q", s.path))
	if err == nil {
		if fields := strings.Fields(out); len(fields) > 0 && len(fields[0]) == 40 {
			return "sha1=" + fields[0], nil
		}
	}
	return sha1Digest(s)
}

// Size returns the remote file's length in bytes.
func (s *SFTPSource) Size() (int64, error) {
	client, err := s.connect()
	if err != nil {
		return 0, err
	}
	info, err := client.Stat(s.path)
	if os.IsNotExist(err) {
		return 0, &NotFoundError{Location: s.rawurl}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", s.rawurl, err)
	}
	return info.Size(), nil
}

// Close shuts down the SFTP and SSH connections.
func (s *SFTPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if s.sftpClient != nil {
		firstErr = s.sftpClient.Close()
		s.sftpClient = nil
	}
	if s.sshClient != nil {
		if err := s.sshClient.Close(); firstErr == nil {
			firstErr = err
		}
		s.sshClient = nil
	}
	return firstErr
}
