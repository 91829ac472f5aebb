package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/marianozunino/relay/internal/utils"
)

const defaultServer = "http://localhost:5000/"

type cli struct {
	v      *viper.Viper
	client *Client
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	c := &cli{v: v}

	rootCmd := &cobra.Command{
		Use:   "relayctl",
		Short: "Relay client - share files through PIN sessions",
		Long: `relayctl talks to a relay server. Files live in short-lived sessions
that others can join with a 6-digit PIN.

Quick start:
  relayctl create                         # Start a session and print its PIN
  relayctl join 482913                    # Join someone else's session
  relayctl upload photo.jpg               # Upload into the current session
  relayctl list                           # List files with fresh download tokens
  relayctl download file-1700000000-123.jpg
  relayctl config set server http://192.168.1.10:5000/`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			server := v.GetString("server")
			if server == "" {
				server = defaultServer
			}
			c.client = NewClient(server)
		},
	}

	rootCmd.PersistentFlags().StringP("server", "s", "", "Server URL (default: "+defaultServer+")")
	rootCmd.PersistentFlags().String("session", "", "Session id (default: the saved session)")
	rootCmd.PersistentFlags().String("pin", "", "Session pin (default: the saved session)")
	v.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))

	rootCmd.AddCommand(
		c.createCmd(),
		c.joinCmd(),
		c.uploadCmd(),
		c.listCmd(),
		c.downloadCmd(),
		c.rmCmd(),
		c.closeCmd(),
		c.configCmd(),
	)
	return rootCmd
}

// credentials prefers explicit flags over the saved session
func (c *cli) credentials(cmd *cobra.Command) (Credentials, error) {
	id, _ := cmd.Flags().GetString("session")
	pin, _ := cmd.Flags().GetString("pin")
	if id == "" {
		id = c.v.GetString("session.id")
	}
	if pin == "" {
		pin = c.v.GetString("session.pin")
	}
	if id == "" || pin == "" {
		return Credentials{}, errors.New("no session: run 'relayctl create' or 'relayctl join <pin>' first")
	}
	return Credentials{SessionID: id, Pin: pin}, nil
}

func (c *cli) saveSession(s *Session) error {
	c.v.Set("session.id", s.SessionID)
	c.v.Set("session.pin", s.Pin)
	return writeConfig(c.v)
}

func writeConfig(v *viper.Viper) error {
	err := v.WriteConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		err = v.SafeWriteConfig()
	}
	if err != nil {
		return fmt.Errorf("error saving configuration: %w", err)
	}
	return nil
}

func printSession(w io.Writer, s *Session) {
	fmt.Fprintf(w, "Session: %s\n", s.SessionID)
	fmt.Fprintf(w, "PIN: %s\n", s.Pin)
	fmt.Fprintf(w, "Type: %s\n", s.SessionType)
	fmt.Fprintf(w, "Expires: %s (in %s)\n", s.ExpiresAt.Local().Format(time.RFC1123), time.Until(s.ExpiresAt).Round(time.Minute))
}

func (c *cli) createCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "create",
		Aliases: []string{"new"},
		Short:   "Create a session and save it as the current one",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionType, _ := cmd.Flags().GetString("type")
			ttl, _ := cmd.Flags().GetInt("ttl")

			s, err := c.client.CreateSession(sessionType, ttl)
			if err != nil {
				return fmt.Errorf("error creating session: %w", err)
			}
			printSession(cmd.OutOrStdout(), s)
			return c.saveSession(s)
		},
	}
	cmd.Flags().StringP("type", "t", "private", "Session type: private, shared or public")
	cmd.Flags().Int("ttl", 0, "Session lifetime in hours (default: server setting)")
	return cmd
}

func (c *cli) joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <pin>",
		Short: "Join a session by PIN and save it as the current one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.client.JoinSession(args[0])
			if err != nil {
				return fmt.Errorf("error joining session: %w", err)
			}
			printSession(cmd.OutOrStdout(), s)
			return c.saveSession(s)
		},
	}
}

func (c *cli) uploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "upload <file>...",
		Aliases: []string{"u", "up"},
		Short:   "Upload files into the current session",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := c.credentials(cmd)
			if err != nil {
				return err
			}
			oneTime, _ := cmd.Flags().GetBool("one-time")

			out := cmd.OutOrStdout()
			for _, path := range args {
				f, err := c.client.UploadFile(creds, path, oneTime)
				if err != nil {
					return fmt.Errorf("error uploading %s: %w", path, err)
				}
				fmt.Fprintf(out, "Uploaded %s as %s (%s)\n", f.OriginalName, f.Filename, utils.FormatFileSize(f.Size))
				fmt.Fprintf(out, "Download: %s%s\n", c.client.BaseURL, trimSlash(f.DownloadURLSuffix))
				if f.OneTime {
					fmt.Fprintln(out, "The file is removed after its first download.")
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolP("one-time", "o", false, "Delete the file after its first download")
	return cmd
}

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List files in the current session",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := c.credentials(cmd)
			if err != nil {
				return err
			}
			files, err := c.client.ListFiles(creds)
			if err != nil {
				return fmt.Errorf("error listing files: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(files) == 0 {
				fmt.Fprintln(out, "No files in this session.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSIZE\tDOWNLOADS\tEXPIRES\tFILENAME")
			for _, f := range files {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					f.ID, f.OriginalName, utils.FormatFileSize(f.Size),
					f.DownloadCount, f.MaxDownloads,
					f.ExpiresAt.Local().Format("2006-01-02 15:04"), f.Filename)
			}
			return tw.Flush()
		},
	}
}

func (c *cli) downloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "download <filename>",
		Aliases: []string{"get", "dl"},
		Short:   "Download a file",
		Long: `Download a file by its stored filename.

Without --token the current session is listed to obtain a fresh token.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filename := args[0]
			token, _ := cmd.Flags().GetString("token")
			output, _ := cmd.Flags().GetString("output")

			if token == "" {
				creds, err := c.credentials(cmd)
				if err != nil {
					return err
				}
				if token, err = c.tokenFor(creds, filename); err != nil {
					return err
				}
			}

			dir := "."
			if output != "" {
				dir = filepath.Dir(output)
			}
			tmp, err := os.CreateTemp(dir, ".relayctl-*")
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer os.Remove(tmp.Name())

			name, n, err := c.client.Download(filename, token, tmp)
			if cerr := tmp.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("error downloading %s: %w", filename, err)
			}

			if output == "" {
				output = name
			}
			if err := os.Rename(tmp.Name(), output); err != nil {
				return fmt.Errorf("failed to save %s: %w", output, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", output, utils.FormatFileSize(n))
			return nil
		},
	}
	cmd.Flags().StringP("token", "t", "", "Download token")
	cmd.Flags().StringP("output", "O", "", "Output path (default: the original file name)")
	return cmd
}

func (c *cli) tokenFor(creds Credentials, filename string) (string, error) {
	files, err := c.client.ListFiles(creds)
	if err != nil {
		return "", fmt.Errorf("error listing files: %w", err)
	}
	for _, f := range files {
		if f.Filename == filename {
			return f.DownloadToken, nil
		}
	}
	return "", fmt.Errorf("%s is not in the current session", filename)
}

func (c *cli) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <file_id>",
		Aliases: []string{"delete", "del"},
		Short:   "Delete a file from the current session",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := c.credentials(cmd)
			if err != nil {
				return err
			}
			if err := c.client.DeleteFile(creds, args[0]); err != nil {
				return fmt.Errorf("error deleting file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "File %s deleted successfully!\n", args[0])
			return nil
		},
	}
}

func (c *cli) closeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close",
		Short: "Delete the current session and all of its files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := c.credentials(cmd)
			if err != nil {
				return err
			}
			if err := c.client.DeleteSession(creds); err != nil {
				return fmt.Errorf("error deleting session: %w", err)
			}

			if c.v.GetString("session.id") == creds.SessionID {
				c.v.Set("session.id", "")
				c.v.Set("session.pin", "")
				if err := writeConfig(c.v); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s deleted.\n", creds.SessionID)
			return nil
		},
	}
}

func (c *cli) configCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:     "config",
		Aliases: []string{"c", "cfg"},
		Short:   "Manage client configuration",
		Long: `Manage client configuration settings like the server URL.

Configuration is stored in ~/.relay/config.yaml`,
	}

	configCmd.AddCommand(&cobra.Command{
		Use:     "set <key> <value>",
		Aliases: []string{"s"},
		Short:   "Set a configuration value",
		Long: `Set a configuration value.

Available keys:
  • server: Server URL (e.g., http://192.168.1.10:5000/)
  • session.id, session.pin: the current session

Example: relayctl config set server http://192.168.1.10:5000/`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.v.Set(args[0], args[1])
			if err := writeConfig(c.v); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", args[0], args[1])
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:     "get <key>",
		Aliases: []string{"g"},
		Short:   "Get a configuration value",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := c.v.GetString(args[0])
			if value == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is not set\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], value)
			}
			return nil
		},
	})

	return configCmd
}

func trimSlash(s string) string {
	return strings.TrimLeft(s, "/")
}

func newViper(configDir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.SetEnvPrefix("RELAYCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.ReadInConfig() // missing config is fine
	return v
}

func main() {
	homeDir, _ := os.UserHomeDir()
	configDir := filepath.Join(homeDir, ".relay")
	os.MkdirAll(configDir, 0o755)

	if err := newRootCmd(newViper(configDir)).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
