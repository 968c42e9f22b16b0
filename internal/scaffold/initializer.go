// Package scaffold writes a starter configuration and example inputs.
package scaffold

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/nlbayes/internal/config"
	"github.com/dyluth/nlbayes/pkg/jobstore"
)

//go:embed templates/*
var templatesFS embed.FS

// Files written by Initialize, relative to the target directory.
const (
	ConfigFile   = config.DefaultPath
	NetworkFile  = "network.json"
	EvidenceFile = "evidence.json"
)

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

var templates = []struct {
	template string
	path     string
}{
	{"templates/nlbayes.yml.tmpl", ConfigFile},
	{"templates/network.json.tmpl", NetworkFile},
	{"templates/evidence.json.tmpl", EvidenceFile},
}

// Initialize writes the starter files into dir. Existing files are only
// replaced when force is set.
func Initialize(dir string, force bool) error {
	if !force {
		if err := CheckExisting(dir); err != nil {
			return err
		}
	}

	files, err := getTemplateFiles(dir)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if err := writeFiles(files); err != nil {
		return err
	}

	return validateCreatedFiles(dir)
}

// getTemplateFiles reads all embedded templates
func getTemplateFiles(dir string) ([]FileInfo, error) {
	files := make([]FileInfo, 0, len(templates))
	for _, t := range templates {
		content, err := templatesFS.ReadFile(t.template)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s template: %w", t.path, err)
		}
		files = append(files, FileInfo{
			Path:        filepath.Join(dir, t.path),
			Content:     content,
			Permissions: 0644,
		})
	}
	return files, nil
}

// writeFiles writes all template files to disk
func writeFiles(files []FileInfo) error {
	for _, file := range files {
		if err := os.WriteFile(file.Path, file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}
	return nil
}

// validateCreatedFiles checks the written files load the way commands will load them
func validateCreatedFiles(dir string) error {
	if _, err := config.Load(filepath.Join(dir, ConfigFile)); err != nil {
		return fmt.Errorf("created %s is invalid: %w", ConfigFile, err)
	}

	network, err := ReadNetwork(filepath.Join(dir, NetworkFile))
	if err != nil {
		return fmt.Errorf("created %s is invalid: %w", NetworkFile, err)
	}
	if err := network.Validate(); err != nil {
		return fmt.Errorf("created %s is invalid: %w", NetworkFile, err)
	}

	evidence, err := ReadEvidence(filepath.Join(dir, EvidenceFile))
	if err != nil {
		return fmt.Errorf("created %s is invalid: %w", EvidenceFile, err)
	}
	return evidence.Validate()
}

// ReadNetwork decodes a network JSON file.
func ReadNetwork(path string) (jobstore.Network, error) {
	var network jobstore.Network
	if err := readJSON(path, &network); err != nil {
		return nil, err
	}
	return network, nil
}

// ReadEvidence decodes an evidence JSON file.
func ReadEvidence(path string) (jobstore.Evidence, error) {
	var evidence jobstore.Evidence
	if err := readJSON(path, &evidence); err != nil {
		return nil, err
	}
	return evidence, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// PrintSuccess prints the success message with created files
func PrintSuccess(dir string) {
	fmt.Printf("\n✅ Successfully initialized nlbayes in %s\n", dir)
	fmt.Println("\nCreated:")
	for _, t := range templates {
		fmt.Printf("  ✓ %s\n", t.path)
	}
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Start Redis and point redis.url at it")
	fmt.Println("  2. Run 'nlbayes worker' to start processing jobs")
	fmt.Println("  3. Run 'nlbayes submit --network network.json --evidence evidence.json --watch'")
}
