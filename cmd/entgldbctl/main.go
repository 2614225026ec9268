// cmd/entgldbctl is the Cobra-based operator CLI.
//
// Usage:
//
//	entgldbctl doc put mycollection mykey '{"x":1}'  --server http://localhost:8080
//	entgldbctl doc get mycollection mykey            --server http://localhost:8080
//	entgldbctl doc delete mycollection mykey         --server http://localhost:8080
//	entgldbctl peer list                             --server http://localhost:8080
//	entgldbctl peer add n2 localhost:7071            --server http://localhost:8080
//	entgldbctl status                                --server http://localhost:8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"entgldb/internal/adminclient"

	"github.com/spf13/cobra"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "entgldbctl",
		Short: "Operator CLI for an entgldb node",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "Node admin surface address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(docCmd(), peerCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── doc ──────────────────────────────────────────────────────────────────────

func docCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Read and write documents",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <collection> <key>",
		Short: "Fetch a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cc *cobra.Command, args []string) error {
			c := adminclient.New(serverAddr, timeout)
			doc, err := c.Get(context.Background(), args[0], args[1])
			if err == adminclient.ErrNotFound {
				fmt.Printf("%s/%s not found\n", args[0], args[1])
				return nil
			}
			if err != nil {
				return err
			}
			return prettyPrint(doc)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list <collection>",
		Short: "List keys in a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cc *cobra.Command, args []string) error {
			c := adminclient.New(serverAddr, timeout)
			keys, err := c.Keys(context.Background(), args[0])
			if err != nil {
				return err
			}
			return prettyPrint(keys)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "put <collection> <key> <json-content>",
		Short: "Store a document",
		Args:  cobra.ExactArgs(3),
		RunE: func(cc *cobra.Command, args []string) error {
			if !json.Valid([]byte(args[2])) {
				return fmt.Errorf("content must be valid JSON")
			}
			c := adminclient.New(serverAddr, timeout)
			doc, err := c.Put(context.Background(), args[0], args[1], json.RawMessage(args[2]))
			if err != nil {
				return err
			}
			return prettyPrint(doc)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <collection> <key>",
		Short: "Tombstone a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cc *cobra.Command, args []string) error {
			c := adminclient.New(serverAddr, timeout)
			if err := c.Delete(context.Background(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("deleted %s/%s\n", args[0], args[1])
			return nil
		},
	})

	return cmd
}

// ─── peer ─────────────────────────────────────────────────────────────────────

func peerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Manage the peer registry",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List known peers",
		RunE: func(cc *cobra.Command, args []string) error {
			c := adminclient.New(serverAddr, timeout)
			peers, err := c.ListPeers(context.Background())
			if err != nil {
				return err
			}
			return prettyPrint(peers)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <node_id> <address>",
		Short: "Register a static remote peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cc *cobra.Command, args []string) error {
			c := adminclient.New(serverAddr, timeout)
			if err := c.AddPeer(context.Background(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("added %s@%s\n", args[0], args[1])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <node_id>",
		Short: "Disable a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cc *cobra.Command, args []string) error {
			c := adminclient.New(serverAddr, timeout)
			if err := c.RemovePeer(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", args[0])
			return nil
		},
	})

	return cmd
}

// ─── status ───────────────────────────────────────────────────────────────────

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show node and peer sync status",
		RunE: func(cc *cobra.Command, args []string) error {
			c := adminclient.New(serverAddr, timeout)
			status, err := c.Status(context.Background())
			if err != nil {
				return err
			}
			return prettyPrint(status)
		},
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func prettyPrint(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return nil
	}
	fmt.Println(string(data))
	return nil
}
