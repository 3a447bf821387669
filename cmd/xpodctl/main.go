// Command xpodctl is the operator-facing thin client of spec §4.H: it holds
// no state of its own and only issues HTTP calls against the admin,
// migration and supervisor surfaces a running xpodnode already exposes
// (spec §6).
// Grounded on the teacher's cobra-based cmd/ layout (cuemby-warren's
// cmd/warren/main.go: one root command, resource-scoped subcommands, a
// thin client struct per subcommand group).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "xpodctl",
	Short: "Operator CLI for an xpod center node",
}

func init() {
	rootCmd.PersistentFlags().String("node", "http://127.0.0.1:8080", "base URL of the target center node's admin surface")
	rootCmd.PersistentFlags().String("token", "", "bearer token for the admin surface (XPODCTL_TOKEN if unset)")

	rootCmd.AddCommand(nodesCmd)
	rootCmd.AddCommand(podsCmd)
	rootCmd.AddCommand(serviceCmd)
}

func clientFromFlags(cmd *cobra.Command) *apiClient {
	base, _ := cmd.Flags().GetString("node")
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = os.Getenv("XPODCTL_TOKEN")
	}
	return newAPIClient(base, token)
}

// Node commands.

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "Inspect registered nodes",
}

var nodesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every node known to the registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromFlags(cmd)
		var out struct {
			Nodes []nodeView `json:"nodes"`
			Total int        `json:"total"`
		}
		if err := c.get("/admin/nodes", &out); err != nil {
			return fmt.Errorf("list nodes: %w", err)
		}
		if len(out.Nodes) == 0 {
			fmt.Println("no nodes registered")
			return nil
		}
		fmt.Printf("%-24s %-8s %-8s %-22s %s\n", "NODE ID", "TYPE", "MODE", "CONNECTIVITY", "ENDPOINT")
		for _, n := range out.Nodes {
			fmt.Printf("%-24s %-8s %-8s %-22s %s\n", n.NodeID, n.NodeType, n.AccessMode, n.Connectivity, n.endpoint())
		}
		return nil
	},
}

var nodesGetCmd = &cobra.Command{
	Use:   "get NODE_ID",
	Short: "Show one node's full record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromFlags(cmd)
		var n nodeView
		if err := c.get("/admin/nodes/"+args[0], &n); err != nil {
			return fmt.Errorf("get node: %w", err)
		}
		fmt.Printf("Node:         %s\n", n.NodeID)
		fmt.Printf("Type:         %s\n", n.NodeType)
		fmt.Printf("Access mode:  %s\n", n.AccessMode)
		fmt.Printf("Connectivity: %s\n", n.Connectivity)
		fmt.Printf("Endpoint:     %s\n", n.endpoint())
		return nil
	},
}

var nodesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new center node and print its admin token",
	RunE: func(cmd *cobra.Command, args []string) error {
		displayName, _ := cmd.Flags().GetString("name")
		c := clientFromFlags(cmd)
		var out struct {
			NodeID string `json:"nodeId"`
			Token  string `json:"token"`
		}
		if err := c.post("/admin/nodes", map[string]string{"displayName": displayName}, &out); err != nil {
			return fmt.Errorf("create node: %w", err)
		}
		fmt.Printf("Node created: %s\n", out.NodeID)
		fmt.Printf("Token (save this, it is shown only once): %s\n", out.Token)
		return nil
	},
}

func init() {
	nodesCmd.AddCommand(nodesListCmd, nodesGetCmd, nodesCreateCmd)
	nodesCreateCmd.Flags().String("name", "", "operator-facing display name for the node")
}

// Pod / migration commands.

var podsCmd = &cobra.Command{
	Use:   "pods",
	Short: "Inspect and migrate pods",
}

var podsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every pod in the directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromFlags(cmd)
		var out struct {
			Pods []podView `json:"pods"`
		}
		if err := c.get("/.cluster/pods", &out); err != nil {
			return fmt.Errorf("list pods: %w", err)
		}
		fmt.Printf("%-24s %-24s %s\n", "POD ID", "NODE ID", "BASE URL")
		for _, p := range out.Pods {
			fmt.Printf("%-24s %-24s %s\n", p.PodID, p.NodeID, p.BaseURL)
		}
		return nil
	},
}

var podsMigrateCmd = &cobra.Command{
	Use:   "migrate POD_ID TARGET_NODE",
	Short: "Migrate a pod to another center node",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		podID, targetNode := args[0], args[1]
		c := clientFromFlags(cmd)
		var out map[string]interface{}
		path := fmt.Sprintf("/.cluster/pods/%s/migrate", podID)
		if err := c.post(path, map[string]string{"targetNode": targetNode}, &out); err != nil {
			return fmt.Errorf("migrate pod: %w", err)
		}
		fmt.Printf("migration of %s to %s: %v\n", podID, targetNode, out["message"])
		return nil
	},
}

var podsStatusCmd = &cobra.Command{
	Use:   "status POD_ID",
	Short: "Show a pod's migration status and progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromFlags(cmd)
		var out struct {
			Status   string `json:"status"`
			Target   string `json:"target"`
			Progress int    `json:"progress"`
		}
		if err := c.get(fmt.Sprintf("/.cluster/pods/%s/migration", args[0]), &out); err != nil {
			return fmt.Errorf("get migration status: %w", err)
		}
		fmt.Printf("status: %s  target: %s  progress: %d%%\n", out.Status, out.Target, out.Progress)
		return nil
	},
}

var podsCancelCmd = &cobra.Command{
	Use:   "cancel POD_ID",
	Short: "Cancel an in-progress staged migration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromFlags(cmd)
		if err := c.delete(fmt.Sprintf("/.cluster/pods/%s/migration", args[0])); err != nil {
			return fmt.Errorf("cancel migration: %w", err)
		}
		fmt.Println("migration cancellation requested")
		return nil
	},
}

func init() {
	podsCmd.AddCommand(podsListCmd, podsMigrateCmd, podsStatusCmd, podsCancelCmd)
}

// Service (supervisor) commands. xpodctl adds no new server-side surface
// (spec §4.H); these talk directly to the node's own supervisor HTTP
// surface (spec §6: GET /service/status, GET /service/logs,
// POST /api/admin/restart).

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Inspect and control a node's supervised processes",
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-service status on the target node",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromFlags(cmd)
		var out struct {
			Services []serviceStatusView `json:"services"`
		}
		if err := c.get("/service/status", &out); err != nil {
			return fmt.Errorf("get service status: %w", err)
		}
		if len(out.Services) == 0 {
			fmt.Println("no supervised services registered")
			return nil
		}
		fmt.Printf("%-20s %-10s %-8s %-10s %-8s %s\n", "NAME", "STATUS", "PID", "UPTIME", "RESTARTS", "LAST EXIT")
		for _, s := range out.Services {
			lastExit := "-"
			if s.LastExitCode != nil {
				lastExit = fmt.Sprintf("%d", *s.LastExitCode)
			}
			fmt.Printf("%-20s %-10s %-8d %-10s %-8d %s\n", s.Name, s.Status, s.Pid, s.Uptime, s.RestartCount, lastExit)
		}
		return nil
	},
}

var serviceLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show a filtered tail of the node's supervisor log ring",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("level")
		source, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")
		c := clientFromFlags(cmd)
		path := fmt.Sprintf("/service/logs?level=%s&source=%s&limit=%d", level, source, limit)
		var out struct {
			Logs []logView `json:"logs"`
		}
		if err := c.get(path, &out); err != nil {
			return fmt.Errorf("get service logs: %w", err)
		}
		for _, l := range out.Logs {
			fmt.Printf("%s %-5s %-12s %s\n", l.Timestamp.Format("15:04:05.000"), l.Level, l.Source, l.Message)
		}
		return nil
	},
}

var serviceRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Signal the node's parent process to relaunch it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromFlags(cmd)
		if err := c.post("/api/admin/restart", nil, nil); err != nil {
			return fmt.Errorf("restart: %w", err)
		}
		fmt.Println("restart signal sent")
		return nil
	},
}

func init() {
	serviceCmd.AddCommand(serviceStatusCmd, serviceLogsCmd, serviceRestartCmd)
	serviceLogsCmd.Flags().String("level", "", "filter by log level")
	serviceLogsCmd.Flags().String("source", "", "filter by service source name")
	serviceLogsCmd.Flags().Int("limit", 100, "maximum number of log lines to show")
}
