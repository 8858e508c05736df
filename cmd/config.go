package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"mediadrop/infrastructure/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration entries",
	Long: `Manage quota tiers in the configuration file.

A tier maps a substring of a membership ID to a storage allocation in GiB.
Tiers are checked in order and the first match wins.

Examples:
  mediadrop config list tiers
  mediadrop config add tier --match studio --gib 1000
  mediadrop config update tier studio --gib 1500
  mediadrop config remove tier studio`,
}

func init() {
	rootCmd.AddCommand(configCmd)

	// Add subcommands
	configCmd.AddCommand(configAddCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configRemoveCmd)
	configCmd.AddCommand(configUpdateCmd)
	configCmd.AddCommand(configValidateCmd)
}

func loadedConfig() (*config.Config, error) {
	c := GetConfig()
	if c == nil {
		return nil, fmt.Errorf("config file not found. Run 'mediadrop setup' first")
	}
	return c, nil
}

// --- ADD command ---

var (
	addMatch string
	addGiB   int64
)

var configAddCmd = &cobra.Command{
	Use:   "add tier",
	Short: "Add a new quota tier",
	Long: `Add a quota tier after every existing tier.

Examples:
  mediadrop config add tier --match studio --gib 1000`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigAdd,
}

func init() {
	configAddCmd.Flags().StringVar(&addMatch, "match", "", "Membership substring the tier applies to (required)")
	configAddCmd.Flags().Int64Var(&addGiB, "gib", 0, "Allocation in GiB (required)")
	configAddCmd.MarkFlagRequired("match")
	configAddCmd.MarkFlagRequired("gib")
}

func runConfigAdd(cmd *cobra.Command, args []string) error {
	c, err := loadedConfig()
	if err != nil {
		return err
	}

	return RunConfigAddWithDependencies(c, cfgFile, args[0], addMatch, addGiB, DefaultOutput)
}

// RunConfigAddWithDependencies runs the add command with injected dependencies
func RunConfigAddWithDependencies(cfg *config.Config, configPath, entityType, match string, gib int64, out OutputWriter) error {
	mgr := config.NewConfigManager(cfg, configPath)

	switch entityType {
	case "tier":
		if err := mgr.AddTier(match, gib); err != nil {
			return err
		}
		fmt.Fprintf(out, "Added tier %q: %d GiB\n", match, gib)

	default:
		return fmt.Errorf("unknown entity type %q. Use tier", entityType)
	}

	return nil
}

// --- LIST command ---

var configListCmd = &cobra.Command{
	Use:   "list tiers",
	Short: "List config entries",
	Long: `List quota tiers in evaluation order, followed by the allocation for
memberships no tier matches.

Examples:
  mediadrop config list tiers`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigList,
}

func runConfigList(cmd *cobra.Command, args []string) error {
	c, err := loadedConfig()
	if err != nil {
		return err
	}

	return RunConfigListWithDependencies(c, cfgFile, args[0], DefaultOutput)
}

// RunConfigListWithDependencies runs the list command with injected dependencies
func RunConfigListWithDependencies(cfg *config.Config, configPath, entityType string, out OutputWriter) error {
	mgr := config.NewConfigManager(cfg, configPath)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	switch entityType {
	case "tiers":
		tiers := mgr.ListTiers()
		if len(tiers) == 0 {
			fmt.Fprintln(out, "No tiers configured.")
		} else {
			fmt.Fprintln(w, "#\tMATCH\tALLOCATION")
			for _, t := range tiers {
				fmt.Fprintf(w, "%d\t%s\t%d GiB\n", t.Position, t.Match, t.GiB)
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}
		fmt.Fprintf(out, "Default allocation: %s\n", formatBytes(cfg.Quota.DefaultAllocationBytes))
		return nil

	default:
		return fmt.Errorf("unknown entity type %q. Use tiers", entityType)
	}
}

// --- REMOVE command ---

var configRemoveCmd = &cobra.Command{
	Use:   "remove tier <match>",
	Short: "Remove a config entry",
	Long: `Remove a quota tier from the configuration.

Examples:
  mediadrop config remove tier studio`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigRemove,
}

func runConfigRemove(cmd *cobra.Command, args []string) error {
	c, err := loadedConfig()
	if err != nil {
		return err
	}

	return RunConfigRemoveWithDependencies(c, cfgFile, args[0], args[1], DefaultOutput)
}

// RunConfigRemoveWithDependencies runs the remove command with injected dependencies
func RunConfigRemoveWithDependencies(cfg *config.Config, configPath, entityType, match string, out OutputWriter) error {
	mgr := config.NewConfigManager(cfg, configPath)

	switch entityType {
	case "tier":
		if err := mgr.RemoveTier(match); err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed tier %q\n", match)

	default:
		return fmt.Errorf("unknown entity type %q. Use tier", entityType)
	}

	return nil
}

// --- UPDATE command ---

var updateGiB int64

var configUpdateCmd = &cobra.Command{
	Use:   "update [tier <match>|default <bytes>]",
	Short: "Update a config entry",
	Long: `Update a quota tier's allocation, or the default allocation in bytes.

Examples:
  mediadrop config update tier studio --gib 1500
  mediadrop config update default 1073741824`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigUpdate,
}

func init() {
	configUpdateCmd.Flags().Int64Var(&updateGiB, "gib", 0, "New allocation in GiB")
}

func runConfigUpdate(cmd *cobra.Command, args []string) error {
	c, err := loadedConfig()
	if err != nil {
		return err
	}

	return RunConfigUpdateWithDependencies(c, cfgFile, args[0], args[1], updateGiB, DefaultOutput)
}

// RunConfigUpdateWithDependencies runs the update command with injected dependencies
func RunConfigUpdateWithDependencies(cfg *config.Config, configPath, entityType, key string, gib int64, out OutputWriter) error {
	mgr := config.NewConfigManager(cfg, configPath)

	switch entityType {
	case "tier":
		if gib == 0 {
			return fmt.Errorf("--gib is required for tier update")
		}
		if err := mgr.UpdateTier(key, gib); err != nil {
			return err
		}
		fmt.Fprintf(out, "Updated tier %q\n", key)

	case "default":
		bytes, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid byte count %q", key)
		}
		if err := mgr.SetDefaultAllocation(bytes); err != nil {
			return err
		}
		fmt.Fprintf(out, "Default allocation set to %s\n", formatBytes(bytes))

	default:
		return fmt.Errorf("unknown entity type %q. Use tier or default", entityType)
	}

	return nil
}

// --- VALIDATE command ---

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file for problems",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadedConfig()
		if err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return err
		}
		fmt.Fprintf(DefaultOutput, "%s %s\n", Success("Valid:"), cfgFile)
		return nil
	},
}
