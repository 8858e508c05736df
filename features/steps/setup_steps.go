//go:build integration

package steps

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mediadrop/cmd"
	"mediadrop/infrastructure/config"

	"github.com/cucumber/godog"
)

type setupContext struct {
	tempDir         string
	configPath      string
	setupCancelled  bool
	originalContent string
	output          *bytes.Buffer
	err             error
}

var SharedSetupContext = &setupContext{}

// MockPrompter implements cmd.Prompter for testing
type MockPrompter struct {
	inputResponses    []string
	passwordResponses []string
	confirmResponses  []bool
	inputIndex        int
	passwordIndex     int
	confirmIndex      int
}

func NewMockPrompter(inputs, passwords []string, confirms []bool) *MockPrompter {
	return &MockPrompter{
		inputResponses:    inputs,
		passwordResponses: passwords,
		confirmResponses:  confirms,
	}
}

func (m *MockPrompter) Input(message string, defaultValue string) (string, error) {
	if m.inputIndex >= len(m.inputResponses) {
		if defaultValue != "" {
			return defaultValue, nil
		}
		return "", fmt.Errorf("no more input responses available for message: %s", message)
	}
	response := m.inputResponses[m.inputIndex]
	m.inputIndex++
	return response, nil
}

func (m *MockPrompter) Password(message string) (string, error) {
	if m.passwordIndex >= len(m.passwordResponses) {
		return "", fmt.Errorf("no more password responses available for message: %s", message)
	}
	response := m.passwordResponses[m.passwordIndex]
	m.passwordIndex++
	return response, nil
}

func (m *MockPrompter) Confirm(message string, defaultValue bool) (bool, error) {
	if m.confirmIndex >= len(m.confirmResponses) {
		return defaultValue, nil
	}
	response := m.confirmResponses[m.confirmIndex]
	m.confirmIndex++
	return response, nil
}

func InitializeSetupScenario(ctx *godog.ScenarioContext) {
	testCtx := SharedSetupContext

	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		// Create temp directory for each scenario
		tempDir, err := os.MkdirTemp("", "setup-test-*")
		if err != nil {
			return c, err
		}
		testCtx.tempDir = tempDir
		testCtx.configPath = filepath.Join(tempDir, "config", "config.yaml")
		testCtx.setupCancelled = false
		testCtx.originalContent = ""
		testCtx.output = &bytes.Buffer{}
		testCtx.err = nil
		return c, nil
	})

	ctx.After(func(c context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		// Cleanup temp directory
		if testCtx.tempDir != "" {
			os.RemoveAll(testCtx.tempDir)
		}
		SharedSetupContext = &setupContext{}
		return c, nil
	})

	ctx.Step(`^no config file exists for setup$`, testCtx.noConfigFileExistsForSetup)
	ctx.Step(`^a config file already exists for setup$`, testCtx.aConfigFileAlreadyExistsForSetup)
	ctx.Step(`^I run the setup command with answers:$`, testCtx.iRunTheSetupCommandWithAnswers)
	ctx.Step(`^I run the setup command with confirmation "([^"]*)"$`, testCtx.iRunTheSetupCommandWithConfirmation)
	ctx.Step(`^a config file should exist$`, testCtx.aConfigFileShouldExist)
	ctx.Step(`^no config file should exist$`, testCtx.noConfigFileShouldExist)
	ctx.Step(`^the config should have cold storage bucket "([^"]*)" at "([^"]*)"$`, testCtx.theConfigShouldHaveColdStorageBucket)
	ctx.Step(`^the config should have share base URL "([^"]*)"$`, testCtx.theConfigShouldHaveShareBaseURL)
	ctx.Step(`^the config should have dropbox app key "([^"]*)" rooted at "([^"]*)"$`, testCtx.theConfigShouldHaveDropboxAppKey)
	ctx.Step(`^the config should have thumbnail bucket "([^"]*)" sharing the cold storage endpoint$`, testCtx.theConfigShouldHaveThumbnailBucket)
	ctx.Step(`^the config should not enable google drive$`, testCtx.theConfigShouldNotEnableGoogleDrive)
	ctx.Step(`^the setup should fail with "([^"]*)"$`, testCtx.theSetupShouldFailWith)
	ctx.Step(`^the setup should be cancelled$`, testCtx.theSetupShouldBeCancelled)
	ctx.Step(`^the existing config should be unchanged$`, testCtx.theExistingConfigShouldBeUnchanged)
}

func (s *setupContext) noConfigFileExistsForSetup() error {
	// Just ensure the config path directory exists but no config file
	return os.MkdirAll(filepath.Dir(s.configPath), 0755)
}

func (s *setupContext) aConfigFileAlreadyExistsForSetup() error {
	if err := os.MkdirAll(filepath.Dir(s.configPath), 0755); err != nil {
		return err
	}

	content := `credentials_file: original-credentials.yaml
cold_storage:
  region: eu-west-1
  bucket: original-media
`
	s.originalContent = content
	return os.WriteFile(s.configPath, []byte(content), 0644)
}

// parseAnswerTable splits a | kind | value | table into the three prompt queues
func parseAnswerTable(table *godog.Table) (inputs, passwords []string, confirms []bool) {
	for i, row := range table.Rows {
		if i == 0 {
			continue // Skip header row
		}
		kind := strings.ToLower(row.Cells[0].Value)
		value := row.Cells[1].Value

		switch kind {
		case "confirm":
			confirms = append(confirms, strings.ToLower(value) == "y")
		case "secret":
			passwords = append(passwords, value)
		default:
			inputs = append(inputs, value)
		}
	}
	return inputs, passwords, confirms
}

func (s *setupContext) iRunTheSetupCommandWithAnswers(table *godog.Table) error {
	inputs, passwords, confirms := parseAnswerTable(table)
	prompter := NewMockPrompter(inputs, passwords, confirms)

	s.err = cmd.RunSetupWithPrompter(prompter, s.configPath, s.output)
	return nil
}

func (s *setupContext) iRunTheSetupCommandWithConfirmation(confirmation string) error {
	confirm := strings.ToLower(confirmation) == "y"
	prompter := NewMockPrompter(nil, nil, []bool{confirm})

	s.err = cmd.RunSetupWithPrompter(prompter, s.configPath, s.output)
	if !confirm {
		s.setupCancelled = true
	}
	return nil
}

func (s *setupContext) loadConfig() (*config.Config, error) {
	if s.err != nil {
		return nil, fmt.Errorf("setup command failed: %w", s.err)
	}
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func (s *setupContext) aConfigFileShouldExist() error {
	if s.err != nil {
		return fmt.Errorf("setup command failed: %w", s.err)
	}
	if _, err := os.Stat(s.configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file does not exist at %s", s.configPath)
	}
	return nil
}

func (s *setupContext) noConfigFileShouldExist() error {
	if _, err := os.Stat(s.configPath); err == nil {
		return fmt.Errorf("config file should not exist at %s", s.configPath)
	}
	return nil
}

func (s *setupContext) theConfigShouldHaveColdStorageBucket(bucket, endpoint string) error {
	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}
	if cfg.ColdStorage.Bucket != bucket || cfg.ColdStorage.Endpoint != endpoint {
		return fmt.Errorf("expected bucket %q at %q, got %q at %q", bucket, endpoint, cfg.ColdStorage.Bucket, cfg.ColdStorage.Endpoint)
	}
	if !cfg.ColdStorage.UsePathStyle {
		return fmt.Errorf("expected path-style addressing for a custom endpoint")
	}
	return nil
}

func (s *setupContext) theConfigShouldHaveShareBaseURL(expected string) error {
	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Share.BaseURL != expected {
		return fmt.Errorf("expected share base URL %q, got %q", expected, cfg.Share.BaseURL)
	}
	return nil
}

func (s *setupContext) theConfigShouldHaveDropboxAppKey(key, root string) error {
	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Dropbox.AppKey != key || cfg.Dropbox.RootFolder != root {
		return fmt.Errorf("expected dropbox %q rooted at %q, got %+v", key, root, cfg.Dropbox)
	}
	if cfg.Dropbox.AppSecret == "" {
		return fmt.Errorf("expected dropbox app secret to be saved")
	}
	return nil
}

func (s *setupContext) theConfigShouldHaveThumbnailBucket(bucket string) error {
	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Thumbnails.Bucket != bucket {
		return fmt.Errorf("expected thumbnail bucket %q, got %q", bucket, cfg.Thumbnails.Bucket)
	}
	if cfg.Thumbnails.Config != cfg.ColdStorage.Config {
		return fmt.Errorf("expected thumbnail bucket to reuse the cold storage endpoint, got %+v", cfg.Thumbnails.Config)
	}
	return nil
}

func (s *setupContext) theConfigShouldNotEnableGoogleDrive() error {
	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Google.Enabled() {
		return fmt.Errorf("expected google drive to be disabled, got %+v", cfg.Google)
	}
	return nil
}

func (s *setupContext) theSetupShouldFailWith(expected string) error {
	if s.err == nil {
		return fmt.Errorf("expected setup to fail with %q", expected)
	}
	if !strings.Contains(s.err.Error(), expected) {
		return fmt.Errorf("expected error containing %q, got %q", expected, s.err.Error())
	}
	return nil
}

func (s *setupContext) theSetupShouldBeCancelled() error {
	if !s.setupCancelled {
		return fmt.Errorf("expected setup to be cancelled")
	}
	if !strings.Contains(s.output.String(), "Setup cancelled.") {
		return fmt.Errorf("expected cancellation message, got %q", s.output.String())
	}
	return nil
}

func (s *setupContext) theExistingConfigShouldBeUnchanged() error {
	content, err := os.ReadFile(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if string(content) != s.originalContent {
		return fmt.Errorf("config content was changed")
	}
	return nil
}
