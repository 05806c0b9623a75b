// ribctl is the command line interface for meshd. Grounded on the
// teacher's cmd/nnet/main.go (cobra root command, persistent --config
// flag, subcommand layout, tabwriter tables, best-effort daemon query over
// HTTP) but without the teacher's emoji-decorated output.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/meshcore/meshd/internal/config"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	configPath   string
	controlAddr string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ribctl",
		Short: "ribctl - manage a meshd node's peers and routes",
		Long:  "ribctl is the command line interface for meshd, a node-local service-mesh control plane.",
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/meshd/meshd.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&controlAddr, "control-api", "", "Override control API address (defaults to config)")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(peersCmd())
	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ribctl %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}
}

func loadConfig() (*config.Config, error) {
	loader := config.NewLoader()
	cfg, err := loader.LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}
	return cfg, nil
}

func apiAddr(cfg *config.Config) string {
	if controlAddr != "" {
		return controlAddr
	}
	addr := cfg.Control.Listen.Address
	if addr == "" || addr == "0.0.0.0" {
		addr = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", addr, cfg.Control.Listen.Port)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

type apiError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func getJSON(url string, out interface{}) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("contacting daemon: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if !env.Success {
		if env.Error != nil {
			return fmt.Errorf("daemon returned %s: %s", env.Error.Kind, env.Error.Message)
		}
		return fmt.Errorf("daemon returned an error")
	}
	if out != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

type peerView struct {
	Name             string `json:"name"`
	Endpoint         string `json:"endpoint"`
	ConnectionStatus string `json:"connectionStatus"`
}

func peersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "List configured peers and their connection status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var peers []peerView
			if err := getJSON(apiAddr(cfg)+"/v1/peers", &peers); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tENDPOINT\tSTATUS")
			for _, p := range peers {
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, p.Endpoint, p.ConnectionStatus)
			}
			return w.Flush()
		},
	}
	return cmd
}

type routeView struct {
	Name     string `json:"Name"`
	Protocol string `json:"Protocol"`
	Endpoint struct {
		Scheme string `json:"Scheme"`
		Host   string `json:"Host"`
		Port   uint32 `json:"Port"`
	} `json:"Endpoint"`
}

type routeEntryView struct {
	Service  routeView `json:"Service"`
	Origin   struct {
		Local bool   `json:"Local"`
		Peer  string `json:"Peer"`
	} `json:"Origin"`
	NodePath []string `json:"NodePath"`
}

type routesView struct {
	Local    []routeView      `json:"local"`
	Internal []routeEntryView `json:"internal"`
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List locally originated and learned routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var routes routesView
			if err := getJSON(apiAddr(cfg)+"/v1/routes", &routes); err != nil {
				return err
			}

			fmt.Println("Local routes:")
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "  NAME\tPROTOCOL\tENDPOINT")
			for _, r := range routes.Local {
				fmt.Fprintf(w, "  %s\t%s\t%s:%d\n", r.Name, r.Protocol, r.Endpoint.Host, r.Endpoint.Port)
			}
			w.Flush()

			fmt.Println("\nLearned routes:")
			w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "  NAME\tPROTOCOL\tENDPOINT\tORIGIN\tNODE PATH")
			for _, e := range routes.Internal {
				fmt.Fprintf(w, "  %s\t%s\t%s:%d\t%s\t%v\n",
					e.Service.Name, e.Service.Protocol, e.Service.Endpoint.Host, e.Service.Endpoint.Port,
					e.Origin.Peer, e.NodePath)
			}
			return w.Flush()
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show a summary of the node's RIB state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Printf("Node: %s\n\n", cfg.Node.ID)

			var peers []peerView
			peersErr := getJSON(apiAddr(cfg)+"/v1/peers", &peers)

			var routes routesView
			routesErr := getJSON(apiAddr(cfg)+"/v1/routes", &routes)

			if peersErr != nil || routesErr != nil {
				fmt.Println("daemon offline or unreachable")
				return nil
			}

			connected := 0
			for _, p := range peers {
				if p.ConnectionStatus == "connected" {
					connected++
				}
			}
			fmt.Printf("Peers:   %d configured, %d connected\n", len(peers), connected)
			fmt.Printf("Routes:  %d local, %d learned\n", len(routes.Local), len(routes.Internal))
			return nil
		},
	}
}
