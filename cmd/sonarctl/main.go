// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// sonarctl administers a running sonar-server through its admin socket.
//
// Usage:
//
//	sonarctl [--socket PATH] [--json] status
//	sonarctl [--socket PATH] [--json] sessions
//	sonarctl [--socket PATH] disconnect SESSION_ID
//	sonarctl [--socket PATH] [--json] types
//	sonarctl [--socket PATH] set-password USER [--password-file FILE]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/sonar/lib/admin"
	"github.com/bureau-foundation/sonar/lib/process"
	"github.com/bureau-foundation/sonar/lib/version"
)

const defaultSocket = "/run/sonar/admin.sock"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	socket       string
	json         bool
	passwordFile string
}

func run(args []string, stdout io.Writer) error {
	var opts options
	var showVersion bool

	socketDefault := os.Getenv("SONAR_ADMIN_SOCKET")
	if socketDefault == "" {
		socketDefault = defaultSocket
	}

	flagSet := pflag.NewFlagSet("sonarctl", pflag.ContinueOnError)
	flagSet.StringVar(&opts.socket, "socket", socketDefault, "admin socket path (env: SONAR_ADMIN_SOCKET)")
	flagSet.BoolVar(&opts.json, "json", false, "print results as JSON")
	flagSet.StringVar(&opts.passwordFile, "password-file", "", "read the new password from this file instead of prompting (set-password)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.Usage = func() { printUsage(flagSet) }
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Fprintf(stdout, "sonarctl %s\n", version.Info())
		return nil
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printUsage(flagSet)
		return errors.New("missing command")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := admin.NewClient(opts.socket)
	command, rest := rest[0], rest[1:]
	switch command {
	case "status":
		return status(ctx, client, opts, rest, stdout)
	case "sessions":
		return sessions(ctx, client, opts, rest, stdout)
	case "disconnect":
		return disconnect(ctx, client, rest)
	case "types":
		return types(ctx, client, opts, rest, stdout)
	case "set-password":
		return setPassword(ctx, client, opts, rest)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `sonarctl administers a running sonar-server.

Usage:
  sonarctl [flags] status
  sonarctl [flags] sessions
  sonarctl [flags] disconnect SESSION_ID
  sonarctl [flags] types
  sonarctl [flags] set-password USER

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

func expectArgs(command string, args []string, count int) error {
	if len(args) != count {
		return fmt.Errorf("%s takes %d argument(s), got %d", command, count, len(args))
	}
	return nil
}

func printJSON(stdout io.Writer, value any) error {
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func status(ctx context.Context, client *admin.Client, opts options, args []string, stdout io.Writer) error {
	if err := expectArgs("status", args, 0); err != nil {
		return err
	}
	result, err := client.Status(ctx)
	if err != nil {
		return err
	}
	if opts.json {
		return printJSON(stdout, result)
	}
	fmt.Fprintf(stdout, "started:       %s\n", result.Started)
	fmt.Fprintf(stdout, "connections:   %d\n", result.Connections)
	fmt.Fprintf(stdout, "authenticated: %d\n", result.Authenticated)
	fmt.Fprintf(stdout, "queue depth:   %d\n", result.QueueDepth)
	fmt.Fprintf(stdout, "types:         %s\n", strings.Join(result.Types, ", "))
	return nil
}

func sessions(ctx context.Context, client *admin.Client, opts options, args []string, stdout io.Writer) error {
	if err := expectArgs("sessions", args, 0); err != nil {
		return err
	}
	result, err := client.Sessions(ctx)
	if err != nil {
		return err
	}
	if opts.json {
		return printJSON(stdout, result)
	}
	table := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(table, "SESSION\tUSER\tADDRESS\tSTATE\tCONNECTED")
	for _, session := range result {
		user := session.User
		if user == "" {
			user = "-"
		}
		fmt.Fprintf(table, "%d\t%s\t%s\t%s\t%s\n",
			session.SessionID, user, session.Address, session.State, session.Connected)
	}
	return table.Flush()
}

func disconnect(ctx context.Context, client *admin.Client, args []string) error {
	if err := expectArgs("disconnect", args, 1); err != nil {
		return err
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid session id %q", args[0])
	}
	return client.Disconnect(ctx, id)
}

func types(ctx context.Context, client *admin.Client, opts options, args []string, stdout io.Writer) error {
	if err := expectArgs("types", args, 0); err != nil {
		return err
	}
	result, err := client.Types(ctx)
	if err != nil {
		return err
	}
	if opts.json {
		return printJSON(stdout, result)
	}
	for _, name := range result {
		fmt.Fprintln(stdout, name)
	}
	return nil
}

func setPassword(ctx context.Context, client *admin.Client, opts options, args []string) error {
	if err := expectArgs("set-password", args, 1); err != nil {
		return err
	}
	password, err := readPassword(opts.passwordFile)
	if err != nil {
		return err
	}
	return client.SetPassword(ctx, args[0], password)
}

// readPassword reads the new password from path, or prompts twice on
// the terminal when path is empty or "-".
func readPassword(path string) (string, error) {
	if path != "" && path != "-" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		password := strings.TrimRight(string(data), "\r\n")
		if password == "" {
			return "", fmt.Errorf("%s is empty", path)
		}
		return password, nil
	}

	stdinFileDescriptor := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFileDescriptor) {
		return "", errors.New("no terminal available for interactive password prompt (use --password-file)")
	}
	fmt.Fprint(os.Stderr, "New password: ")
	first, err := term.ReadPassword(stdinFileDescriptor)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	fmt.Fprint(os.Stderr, "Confirm password: ")
	second, err := term.ReadPassword(stdinFileDescriptor)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	if len(first) == 0 {
		return "", errors.New("empty password")
	}
	return string(first), nil
}
