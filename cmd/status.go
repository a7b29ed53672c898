package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity and offline resource usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		st := a.Status()

		state := "offline"
		if st.Online {
			state = "online"
		}
		fmt.Printf("backend:        %s\n", state)
		fmt.Printf("queued:         %d request(s)\n", st.Queued)
		fmt.Printf("cached:         %d response(s), %d / %d bytes\n",
			st.Cache.Entries, st.Cache.TotalBytes, st.Cache.Capacity)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
