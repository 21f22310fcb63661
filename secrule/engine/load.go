package engine

import (
	"secwaf/secrule/parser"

	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// LoadFile builds an Engine from a rule configuration file. Include directives resolve
// relative to the including file's directory.
func LoadFile(opts Options, rulePath string) (*Engine, error) {
	text, err := os.ReadFile(rulePath)
	if err != nil {
		return nil, fmt.Errorf("could not read rule file %v: %v", rulePath, err)
	}

	dir := filepath.Dir(rulePath)
	p := parser.NewRuleParser()

	var includeLoader parser.IncludeLoaderCb
	includeLoader = func(includePath string) (*parser.ParsedRuleSet, error) {
		full := includePath
		if !filepath.IsAbs(full) {
			full = filepath.Join(dir, includePath)
		}

		bb, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("could not read included file %v: %v", full, err)
		}

		return p.Parse(includePath, string(bb), fileLinesLoader(dir), includeLoader)
	}

	parsed, err := p.Parse(filepath.Base(rulePath), string(text), fileLinesLoader(dir), includeLoader)
	if err != nil {
		return nil, err
	}

	return NewEngine(parsed, opts, fileLinesLoader(dir))
}

// LoadString builds an Engine from rule configuration text. Data files and includes
// resolve relative to the current directory.
func LoadString(opts Options, text string) (*Engine, error) {
	p := parser.NewRuleParser()

	var includeLoader parser.IncludeLoaderCb
	includeLoader = func(includePath string) (*parser.ParsedRuleSet, error) {
		bb, err := os.ReadFile(includePath)
		if err != nil {
			return nil, fmt.Errorf("could not read included file %v: %v", includePath, err)
		}

		return p.Parse(includePath, string(bb), fileLinesLoader("."), includeLoader)
	}

	parsed, err := p.Parse("inline", text, fileLinesLoader("."), includeLoader)
	if err != nil {
		return nil, err
	}

	return NewEngine(parsed, opts, fileLinesLoader("."))
}

// LoadRemote fetches a rule configuration over HTTPS and builds an Engine from it.
// The key is sent as a bearer token. Includes are not available for remote rule sets.
func LoadRemote(opts Options, url string, key string) (*Engine, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid rule URL %v: %v", url, err)
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not fetch rules from %v: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("could not fetch rules from %v: status %v", url, resp.StatusCode)
	}

	bb, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read rules from %v: %v", url, err)
	}

	p := parser.NewRuleParser()
	parsed, err := p.Parse(url, string(bb), nil, nil)
	if err != nil {
		return nil, err
	}

	return NewEngine(parsed, opts, nil)
}

// fileLinesLoader reads a data file (for @pmFromFile and @ipMatchFromFile) into its
// non-empty, non-comment lines.
func fileLinesLoader(dir string) func(path string) ([]string, error) {
	return func(path string) ([]string, error) {
		full := path
		if !filepath.IsAbs(full) {
			full = filepath.Join(dir, path)
		}

		bb, err := os.ReadFile(full)
		if err != nil {
			return nil, err
		}

		var lines []string
		for _, line := range strings.Split(string(bb), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			lines = append(lines, line)
		}

		return lines, nil
	}
}
