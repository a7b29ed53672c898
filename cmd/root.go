package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Hi-dle-hancom/frontend-sub003/pkg/message"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "hapa",
	Short: "Resilient client for the HAPA code-generation backend",
	Long: `Client-side resilience layer for the HAPA code-generation backend:
queues requests while offline, caches responses, retries transient
failures and streams generated code as it arrives.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := viper.GetString("prompt")
		if prompt == "" {
			return cmd.Help()
		}
		return runGenerate(cmd.Context(), prompt, viper.GetBool("stream"))
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is .hapa/settings.yaml)")

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.Flags().StringP("prompt", "p", "", "generate code for a prompt and exit")
	viper.BindPFlag("prompt", rootCmd.Flags().Lookup("prompt"))

	rootCmd.Flags().BoolP("stream", "s", false, "stream the response as it is generated")
	viper.BindPFlag("stream", rootCmd.Flags().Lookup("stream"))
}

// runGenerate serves one prompt and exits
func runGenerate(ctx context.Context, prompt string, stream bool) error {
	done := make(chan error, 1)

	a, err := bootApp(func(msg message.Message) {
		switch msg.Command {
		case message.CmdStreamingChunk:
			fmt.Print(msg.StringField("content"))
		case message.CmdStreamingComplete:
			fmt.Println()
			done <- nil
		case message.CmdStreamingError:
			done <- errors.New(msg.StringField("error"))
		case message.CmdStatusNotice:
			fmt.Fprintln(os.Stderr, msg.StringField("text"))
		}
	})
	if err != nil {
		return err
	}
	defer a.Close()

	if !stream {
		code, err := a.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		fmt.Println(code)
		return nil
	}

	msg := message.New(message.CmdGenerateStream, map[string]any{"prompt": prompt})
	if err := a.Submit(ctx, msg); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
