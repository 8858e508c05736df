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

type configContext struct {
	tempDir    string
	configPath string
	cfg        *config.Config
	output     *bytes.Buffer
	err        error
}

func InitializeConfigScenario(ctx *godog.ScenarioContext) {
	c := &configContext{}

	ctx.Before(func(goCtx context.Context, sc *godog.Scenario) (context.Context, error) {
		tempDir, err := os.MkdirTemp("", "config-test-*")
		if err != nil {
			return goCtx, err
		}
		c.tempDir = tempDir
		c.configPath = filepath.Join(tempDir, "config.yaml")
		c.cfg = nil
		c.output = &bytes.Buffer{}
		c.err = nil
		return goCtx, nil
	})

	ctx.After(func(goCtx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if c.tempDir != "" {
			os.RemoveAll(c.tempDir)
		}
		return goCtx, nil
	})

	ctx.Step(`^a config file with the default tiers$`, c.aConfigFileWithTheDefaultTiers)
	ctx.Step(`^I list the "([^"]*)"$`, c.iListThe)
	ctx.Step(`^I add a tier matching "([^"]*)" with (\d+) GiB$`, c.iAddATierMatching)
	ctx.Step(`^I update tier "([^"]*)" to (\d+) GiB$`, c.iUpdateTier)
	ctx.Step(`^I remove tier "([^"]*)"$`, c.iRemoveTier)
	ctx.Step(`^I set the default allocation to "([^"]*)"$`, c.iSetTheDefaultAllocationTo)
	ctx.Step(`^the command should succeed$`, c.theCommandShouldSucceed)
	ctx.Step(`^the command should fail with "([^"]*)"$`, c.theCommandShouldFailWith)
	ctx.Step(`^the output should contain "([^"]*)"$`, c.theOutputShouldContain)
	ctx.Step(`^tier (\d+) should match "([^"]*)" with (\d+) GiB$`, c.tierShouldMatch)
	ctx.Step(`^the saved config should have (\d+) tiers$`, c.theSavedConfigShouldHaveTiers)
	ctx.Step(`^the saved default allocation should be (\d+) bytes$`, c.theSavedDefaultAllocationShouldBe)
}

func (c *configContext) aConfigFileWithTheDefaultTiers() error {
	c.cfg = config.Default()
	c.cfg.ColdStorage.Bucket = "media"
	return config.Save(c.cfg, c.configPath)
}

func (c *configContext) iListThe(entityType string) error {
	c.output.Reset()
	c.err = cmd.RunConfigListWithDependencies(c.cfg, c.configPath, entityType, c.output)
	return nil
}

func (c *configContext) iAddATierMatching(match string, gib int64) error {
	c.err = cmd.RunConfigAddWithDependencies(c.cfg, c.configPath, "tier", match, gib, c.output)
	return nil
}

func (c *configContext) iUpdateTier(match string, gib int64) error {
	c.err = cmd.RunConfigUpdateWithDependencies(c.cfg, c.configPath, "tier", match, gib, c.output)
	return nil
}

func (c *configContext) iRemoveTier(match string) error {
	c.err = cmd.RunConfigRemoveWithDependencies(c.cfg, c.configPath, "tier", match, c.output)
	return nil
}

func (c *configContext) iSetTheDefaultAllocationTo(value string) error {
	c.err = cmd.RunConfigUpdateWithDependencies(c.cfg, c.configPath, "default", value, 0, c.output)
	return nil
}

func (c *configContext) theCommandShouldSucceed() error {
	if c.err != nil {
		return fmt.Errorf("expected success, got: %w", c.err)
	}
	return nil
}

func (c *configContext) theCommandShouldFailWith(expected string) error {
	if c.err == nil {
		return fmt.Errorf("expected error containing %q, got success", expected)
	}
	if !strings.Contains(c.err.Error(), expected) {
		return fmt.Errorf("expected error containing %q, got %q", expected, c.err.Error())
	}
	return nil
}

func (c *configContext) theOutputShouldContain(expected string) error {
	if !strings.Contains(c.output.String(), expected) {
		return fmt.Errorf("expected output to contain %q, got:\n%s", expected, c.output.String())
	}
	return nil
}

// savedTiers reloads the file so assertions see what was persisted
func (c *configContext) savedTiers() ([]config.Tier, error) {
	saved, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	return config.NewConfigManager(saved, c.configPath).ListTiers(), nil
}

func (c *configContext) tierShouldMatch(position int, match string, gib int64) error {
	tiers, err := c.savedTiers()
	if err != nil {
		return err
	}
	if position < 1 || position > len(tiers) {
		return fmt.Errorf("no tier at position %d, have %d tiers", position, len(tiers))
	}
	got := tiers[position-1]
	if got.Match != match || got.GiB != gib {
		return fmt.Errorf("expected tier %d to be %q/%d GiB, got %q/%d GiB", position, match, gib, got.Match, got.GiB)
	}
	return nil
}

func (c *configContext) theSavedConfigShouldHaveTiers(count int) error {
	tiers, err := c.savedTiers()
	if err != nil {
		return err
	}
	if len(tiers) != count {
		return fmt.Errorf("expected %d tiers, got %d", count, len(tiers))
	}
	return nil
}

func (c *configContext) theSavedDefaultAllocationShouldBe(expected int64) error {
	saved, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if saved.Quota.DefaultAllocationBytes != expected {
		return fmt.Errorf("expected default allocation %d, got %d", expected, saved.Quota.DefaultAllocationBytes)
	}
	return nil
}
