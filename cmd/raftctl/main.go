package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/raftcore/pkg/raftadmin"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "raftctl",
	Short: "raftctl administers a running raftd server over its local control socket",
}

func init() {
	rootCmd.PersistentFlags().String("data-dir", "./data", "Data directory passed to the target raftd (used to locate its socket)")
	rootCmd.PersistentFlags().String("socket", "", "Explicit control socket path (default <data-dir>/raftd.sock)")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(statusCmd, addServerCmd, removeServerCmd, commandCmd)
}

func client(cmd *cobra.Command) *raftadmin.Client {
	socket, _ := cmd.Flags().GetString("socket")
	if socket == "" {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		socket = filepath.Join(dataDir, "raftd.sock")
	}
	return raftadmin.NewClient(socket)
}

func ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return context.WithTimeout(context.Background(), timeout)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the target server's term, commit index, and leader hint",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cancel := ctx(cmd)
		defer cancel()
		status, err := client(cmd).Status(c)
		if err != nil {
			return err
		}
		fmt.Printf("leader:          %v\n", status.IsLeader)
		fmt.Printf("leader_id:       %s\n", status.LeaderID)
		fmt.Printf("leader_address:  %s\n", status.LeaderAddress)
		fmt.Printf("term:            %d\n", status.Term)
		fmt.Printf("commit_index:    %d\n", status.CommitIndex)
		fmt.Printf("durability_lag:  %d\n", status.DurabilityLag)
		return nil
	},
}

var addServerCmd = &cobra.Command{
	Use:   "add-server <server-id> <address>",
	Short: "Propose adding a new server to the cluster",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cancel := ctx(cmd)
		defer cancel()
		status, err := client(cmd).AddServer(c, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(status)
		return nil
	},
}

var removeServerCmd = &cobra.Command{
	Use:   "remove-server <server-id>",
	Short: "Propose removing a server from the cluster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cancel := ctx(cmd)
		defer cancel()
		status, err := client(cmd).RemoveServer(c, args[0])
		if err != nil {
			return err
		}
		fmt.Println(status)
		return nil
	},
}

var commandCmd = &cobra.Command{
	Use:   "command-execute <payload>",
	Short: "Submit an opaque payload for replication and wait for its outcome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cancel := ctx(cmd)
		defer cancel()
		id, status, err := client(cmd).Command(c, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("id: %d, status: %s\n", id, status)
		return nil
	},
}
