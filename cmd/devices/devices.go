package devices

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soundspine/capturemix/internal/source"
)

// Command creates a command that lists the capture devices on the host.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available capture devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := source.ListCaptureDevices()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("No capture devices found")
				return nil
			}
			fmt.Println("Available capture devices:")
			for i, name := range names {
				fmt.Printf("  %d: %s\n", i, name)
			}
			return nil
		},
	}
}
