package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shuttlr-io/shuttlr/internal/state"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the pipeline state file",
	Long: `Writes a fresh state document with default resource names and every
resource group marked pending. Refuses to overwrite an existing
document unless --force is given.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing state file")
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, store, err := setup()
	if err != nil {
		return err
	}

	if store.Exists() && !initForce {
		return fmt.Errorf("state file %s already exists: pass --force to reset it", store.Path())
	}

	doc := state.Seed(cfg.SourceRegion, cfg.TargetRegion)
	if err := store.Save(doc); err != nil {
		return err
	}

	fmt.Printf("Created %s\n", store.Path())
	fmt.Printf("Regions: %s -> %s\n", cfg.SourceRegion, cfg.TargetRegion)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Run 'shuttlr deploy' to provision the pipeline")
	fmt.Println("  2. Run 'shuttlr verify' to push a test file through it")
	fmt.Println("  3. Run 'shuttlr serve' to browse the shuttled data")
	return nil
}
