// Command ralectl is a thin client for raled's Unix-domain control
// socket: it sends one line-framed command and prints the JSON
// response. Grounded on cmd/server/main.go's flag-driven CLI shape,
// generalized to a socket round trip instead of an in-process call.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	flagSocket  string
	flagTimeout time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "ralectl",
		Short: "Control-socket client for a raled node",
	}
	root.PersistentFlags().StringVar(&flagSocket, "socket", "/tmp/raled.sock", "path to raled's control socket")
	root.PersistentFlags().DurationVar(&flagTimeout, "timeout", 5*time.Second, "socket round-trip timeout")

	root.AddCommand(
		simpleCmd("status", "Print this node's RALE role/term/leader", "STATUS"),
		simpleCmd("list", "List every node in the membership table", "LIST"),
		&cobra.Command{
			Use:   "add <id> <name> <ip> <rale-port> <dstore-port>",
			Short: "Add a node to the membership table",
			Args:  cobra.ExactArgs(5),
			RunE: func(cmd *cobra.Command, args []string) error {
				return sendAndPrint(strings.Join(append([]string{"ADD"}, args...), " "))
			},
		},
		&cobra.Command{
			Use:   "remove <id>",
			Short: "Remove a node from the membership table",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return sendAndPrint("REMOVE " + args[0])
			},
		},
		&cobra.Command{
			Use:   "put <key> <value>",
			Short: "Write a key/value pair",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return sendAndPrint(fmt.Sprintf("PUT %s %s", args[0], args[1]))
			},
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Read a key's value",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return sendAndPrint("GET " + args[0])
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Ask the node to shut down gracefully",
			RunE: func(cmd *cobra.Command, args []string) error {
				return sendAndPrint("STOP")
			},
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func simpleCmd(use, short, wire string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendAndPrint(wire)
		},
	}
}

func sendAndPrint(line string) error {
	conn, err := net.DialTimeout("unix", flagSocket, flagTimeout)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", flagSocket, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(flagTimeout))

	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("writing command: %w", err)
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var resp struct {
		ID         string      `json:"id"`
		StatusCode int         `json:"status_code"`
		Message    string      `json:"message"`
		Data       interface{} `json:"data,omitempty"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(reply)), &resp); err != nil {
		fmt.Println(strings.TrimSpace(reply))
		return nil
	}

	pretty, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Println(string(pretty))
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
	return nil
}
