package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aliuyar1234/clinicdocs/internal/auth"
	"github.com/aliuyar1234/clinicdocs/internal/db"
	"github.com/aliuyar1234/clinicdocs/internal/retention"
	"github.com/jackc/pgx/v5/pgxpool"
)

func runAdmin(args []string) int {
	if len(args) == 0 {
		printAdminUsage()
		return 2
	}

	switch args[0] {
	case "reset-password":
		return runResetPassword(args[1:])
	case "migrate":
		return runMigrate(args[1:])
	case "retention":
		return runRetention(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown admin command: %s\n", args[0])
		printAdminUsage()
		return 2
	}
}

func printAdminUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  clinicdocs admin reset-password --email user@example.com [--password <new>] [--db-dsn <dsn>]")
	fmt.Fprintln(os.Stderr, "  clinicdocs admin migrate [--db-dsn <dsn>]")
	fmt.Fprintln(os.Stderr, "  clinicdocs admin retention [--token-days 7] [--invitation-days 30] [--audit-days 365] [--db-dsn <dsn>]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Notes:")
	fmt.Fprintln(os.Stderr, "  - If --password is omitted, a random password is generated and printed.")
	fmt.Fprintln(os.Stderr, "  - Resetting a password signs the user out everywhere.")
	fmt.Fprintln(os.Stderr, "  - --db-dsn defaults to CD_DB_DSN.")
}

func resolveDSN(flagValue string) (string, bool) {
	dsn := strings.TrimSpace(flagValue)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("CD_DB_DSN"))
	}
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "--db-dsn is required (or set CD_DB_DSN)")
		return "", false
	}
	return dsn, true
}

func parseFlags(fs *flag.FlagSet, args []string) (int, bool) {
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0, false
		}
		return 2, false
	}
	return 0, true
}

func runResetPassword(args []string) int {
	fs := flag.NewFlagSet("reset-password", flag.ContinueOnError)

	var email, password, dbDSN string
	fs.StringVar(&email, "email", "", "User email")
	fs.StringVar(&password, "password", "", "New password (if empty, generates one)")
	fs.StringVar(&dbDSN, "db-dsn", "", "Postgres DSN (defaults to CD_DB_DSN)")

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		fmt.Fprintln(os.Stderr, "--email is required")
		return 2
	}

	dsn, ok := resolveDSN(dbDSN)
	if !ok {
		return 2
	}

	generated := false
	if password == "" {
		pw, err := generatePassword(24)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate password: %v\n", err)
			return 1
		}
		password = pw
		generated = true
	}

	if len(password) < 8 {
		fmt.Fprintln(os.Stderr, "Password must be at least 8 characters")
		return 2
	}

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to hash password: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	tag, err := pool.Exec(ctx, `
		UPDATE users
		SET password_hash = $2, token_version = token_version + 1, updated_at = NOW()
		WHERE email = $1
	`, email, passwordHash)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to update password: %v\n", err)
		return 1
	}
	if tag.RowsAffected() == 0 {
		fmt.Fprintf(os.Stderr, "No user found with email %q\n", email)
		return 1
	}

	fmt.Fprintln(os.Stdout, "Password updated.")
	if generated {
		fmt.Fprintln(os.Stdout, password)
	}

	return 0
}

func runMigrate(args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	var dbDSN string
	fs.StringVar(&dbDSN, "db-dsn", "", "Postgres DSN (defaults to CD_DB_DSN)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	dsn, ok := resolveDSN(dbDSN)
	if !ok {
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.Connect(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		return 1
	}

	fmt.Fprintln(os.Stdout, "Migrations applied.")
	return 0
}

func runRetention(args []string) int {
	fs := flag.NewFlagSet("retention", flag.ContinueOnError)
	p := retention.DefaultPolicy
	var dbDSN string
	fs.IntVar(&p.AuthTokenDays, "token-days", p.AuthTokenDays, "Days to keep used or expired auth tokens")
	fs.IntVar(&p.InvitationDays, "invitation-days", p.InvitationDays, "Days to keep closed or expired invitations")
	fs.IntVar(&p.AuditDays, "audit-days", p.AuditDays, "Days to keep audit events (0 keeps everything)")
	fs.StringVar(&dbDSN, "db-dsn", "", "Postgres DSN (defaults to CD_DB_DSN)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	if p.AuthTokenDays < 1 || p.InvitationDays < 1 {
		fmt.Fprintln(os.Stderr, "--token-days and --invitation-days must be at least 1")
		return 2
	}

	dsn, ok := resolveDSN(dbDSN)
	if !ok {
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	if err := retention.RunRetentionJob(ctx, pool, p); err != nil {
		fmt.Fprintf(os.Stderr, "Retention failed: %v\n", err)
		return 1
	}

	fmt.Fprintln(os.Stdout, "Retention complete.")
	return 0
}

func generatePassword(bytesLen int) (string, error) {
	if bytesLen < 8 {
		bytesLen = 8
	}

	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
