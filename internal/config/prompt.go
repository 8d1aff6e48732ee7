package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// DefaultDir is the directory the interactive prompt offers to save into.
const DefaultDir = "/etc/speculare"

// FileName is the name of the config file written by Prompt.
const FileName = "client.yaml"

// Prompt asks for the endpoint settings on in, writes a config file and
// returns its path. The token is read without echo when in is a terminal.
// An empty answer to the directory question keeps dir.
func Prompt(in io.Reader, out io.Writer, dir string) (string, error) {
	r := bufio.NewReader(in)

	token, err := askSecret(r, in, out, "What is your api_token ?\n > ")
	if err != nil {
		return "", fmt.Errorf("reading api_token: %w", err)
	}
	apiURL, err := ask(r, out, "What is your api_url ?\n > ")
	if err != nil {
		return "", fmt.Errorf("reading api_url: %w", err)
	}
	if dir == "" {
		dir = DefaultDir
	}
	answer, err := ask(r, out, fmt.Sprintf("Where should we save the config ? [%s]\n > ", dir))
	if err != nil {
		return "", fmt.Errorf("reading config directory: %w", err)
	}
	if answer != "" {
		dir = answer
	}

	cfg := Default()
	cfg.APIToken = token
	cfg.APIURL = apiURL
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	path := filepath.Join(dir, FileName)
	if err := Write(cfg, path); err != nil {
		return "", err
	}
	fmt.Fprintf(out, "\nThe config has been written at %s\n", path)
	return path, nil
}

// Write serializes cfg as YAML to path, creating parent directories.
// The file is only readable by its owner since it holds the api token.
func Write(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("setting permissions on %s: %w", path, err)
	}
	return nil
}

func ask(r *bufio.Reader, out io.Writer, question string) (string, error) {
	fmt.Fprint(out, question)
	line, err := r.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func askSecret(r *bufio.Reader, in io.Reader, out io.Writer, question string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(out, question)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	return ask(r, out, question)
}
