package cmd

import (
	"fmt"
	"os"

	"mediadrop/infrastructure/config"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
)

// Prompter interface for interactive prompts (allows mocking in tests)
type Prompter interface {
	Input(message string, defaultValue string) (string, error)
	Password(message string) (string, error)
	Confirm(message string, defaultValue bool) (bool, error)
}

// SurveyPrompter implements Prompter using the survey library
type SurveyPrompter struct{}

func (p *SurveyPrompter) Input(message string, defaultValue string) (string, error) {
	result := ""
	prompt := &survey.Input{
		Message: message,
		Default: defaultValue,
	}
	if err := survey.AskOne(prompt, &result); err != nil {
		return "", err
	}
	return result, nil
}

func (p *SurveyPrompter) Password(message string) (string, error) {
	result := ""
	if err := survey.AskOne(&survey.Password{Message: message}, &result); err != nil {
		return "", err
	}
	return result, nil
}

func (p *SurveyPrompter) Confirm(message string, defaultValue bool) (bool, error) {
	result := defaultValue
	prompt := &survey.Confirm{
		Message: message,
		Default: defaultValue,
	}
	if err := survey.AskOne(prompt, &result); err != nil {
		return false, err
	}
	return result, nil
}

// DefaultPrompter is the prompter used in production
var DefaultPrompter Prompter = &SurveyPrompter{}

var errPromptCancelled = fmt.Errorf("prompt cancelled")

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create configuration file interactively",
	Long: `Prompts for configuration values and creates config.yaml.

This command guides you through configuring the storage backends:
an S3-compatible cold-storage bucket, a Dropbox app, and a Google
Drive OAuth client. Any of them may be skipped, but at least one is
required.`,
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath
	}
	return RunSetupWithPrompter(DefaultPrompter, path, DefaultOutput)
}

// RunSetupWithPrompter runs the setup with a given prompter (for testing)
func RunSetupWithPrompter(prompter Prompter, configPath string, out OutputWriter) error {
	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil {
		overwrite, err := prompter.Confirm("config.yaml already exists. Overwrite?", false)
		if err != nil {
			return errPromptCancelled
		}
		if !overwrite {
			fmt.Fprintln(out, "Setup cancelled.")
			return nil
		}
	}

	fmt.Fprintln(out, "Welcome to mediadrop setup!")
	fmt.Fprintln(out)

	cfg := config.Default()

	credentialsFile, err := prompter.Input("Where should user credentials be stored?", cfg.CredentialsFile)
	if err != nil {
		return errPromptCancelled
	}
	if credentialsFile != "" {
		cfg.CredentialsFile = credentialsFile
	}

	// Cold storage section
	if err := promptColdStorage(prompter, cfg); err != nil {
		return err
	}

	// Dropbox section
	if err := promptDropbox(prompter, cfg); err != nil {
		return err
	}

	// Google section
	if err := promptGoogle(prompter, cfg); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration is incomplete:\n%w", err)
	}

	// Save configuration
	if err := config.Save(cfg, configPath); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Configuration saved to %s\n", configPath)
	return nil
}

func promptBucket(prompter Prompter, label string, b *config.BucketConfig, defaults *config.BucketConfig) error {
	bucket, err := prompter.Input(label+" bucket name?", "")
	if err != nil {
		return errPromptCancelled
	}
	if bucket == "" {
		return fmt.Errorf("bucket name is required")
	}
	b.Bucket = bucket

	if defaults != nil {
		same, err := prompter.Confirm("Use the same endpoint and keys as cold storage?", true)
		if err != nil {
			return errPromptCancelled
		}
		if same {
			b.Config = defaults.Config
			return nil
		}
	}

	if b.Region, err = prompter.Input("  Region?", "us-east-1"); err != nil {
		return errPromptCancelled
	}
	if b.Endpoint, err = prompter.Input("  Custom endpoint (blank for AWS)?", ""); err != nil {
		return errPromptCancelled
	}
	if b.Endpoint != "" {
		if b.UsePathStyle, err = prompter.Confirm("  Use path-style addressing?", true); err != nil {
			return errPromptCancelled
		}
	}
	if b.AccessKeyID, err = prompter.Input("  Access key ID (blank for the default AWS chain)?", ""); err != nil {
		return errPromptCancelled
	}
	if b.AccessKeyID != "" {
		if b.SecretAccessKey, err = prompter.Password("  Secret access key?"); err != nil {
			return errPromptCancelled
		}
	}
	return nil
}

func promptColdStorage(prompter Prompter, cfg *config.Config) error {
	enable, err := prompter.Confirm("Configure cold storage (S3-compatible)?", true)
	if err != nil {
		return errPromptCancelled
	}
	if !enable {
		return nil
	}
	if err := promptBucket(prompter, "Cold storage", &cfg.ColdStorage, nil); err != nil {
		return err
	}

	base, err := prompter.Input("Public share base URL (blank for none)?", "")
	if err != nil {
		return errPromptCancelled
	}
	cfg.Share.BaseURL = base

	transcode, err := prompter.Confirm("Store MP4 preview renditions of uploaded videos?", false)
	if err != nil {
		return errPromptCancelled
	}
	if transcode {
		if err := promptBucket(prompter, "Preview", &cfg.Transcoded, &cfg.ColdStorage); err != nil {
			return err
		}
	}

	thumbs, err := prompter.Confirm("Cache thumbnails in a bucket?", false)
	if err != nil {
		return errPromptCancelled
	}
	if thumbs {
		if err := promptBucket(prompter, "Thumbnail", &cfg.Thumbnails.BucketConfig, &cfg.ColdStorage); err != nil {
			return err
		}
	}
	return nil
}

func promptDropbox(prompter Prompter, cfg *config.Config) error {
	enable, err := prompter.Confirm("Configure Dropbox?", false)
	if err != nil {
		return errPromptCancelled
	}
	if !enable {
		return nil
	}

	key, err := prompter.Input("Dropbox app key?", "")
	if err != nil {
		return errPromptCancelled
	}
	if key == "" {
		return fmt.Errorf("app key is required")
	}
	cfg.Dropbox.AppKey = key

	secret, err := prompter.Password("Dropbox app secret?")
	if err != nil {
		return errPromptCancelled
	}
	if secret == "" {
		return fmt.Errorf("app secret is required")
	}
	cfg.Dropbox.AppSecret = secret

	root, err := prompter.Input("Root folder for projects?", cfg.Dropbox.RootFolder)
	if err != nil {
		return errPromptCancelled
	}
	if root != "" {
		cfg.Dropbox.RootFolder = root
	}
	return nil
}

func promptGoogle(prompter Prompter, cfg *config.Config) error {
	enable, err := prompter.Confirm("Configure Google Drive?", false)
	if err != nil {
		return errPromptCancelled
	}
	if !enable {
		return nil
	}

	credentials, err := prompter.Input("Path to Google OAuth client file?", "credentials.json")
	if err != nil {
		return errPromptCancelled
	}
	if credentials == "" {
		credentials = "credentials.json"
	}
	cfg.Google.CredentialsFile = credentials

	folder, err := prompter.Input("Drive folder ID for projects?", cfg.Google.RootFolderID)
	if err != nil {
		return errPromptCancelled
	}
	if folder != "" {
		cfg.Google.RootFolderID = folder
	}

	return nil
}
