package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/ashureev/coordi/internal/auth"
	"github.com/spf13/cobra"
)

var (
	loginUsername string
	loginPassword string
)

// loginCmd logs in through the identity service
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and cache the credential locally",
	RunE:  runLogin,
}

// logoutCmd drops the cached credential
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the cached credential",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := deps.auth.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ログアウトしました。")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "Username")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password (prompted when omitted)")
}

func runLogin(cmd *cobra.Command, _ []string) error {
	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	username := loginUsername
	if username == "" {
		fmt.Fprint(out, "ユーザー名: ")
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read username: %w", err)
		}
		username = strings.TrimSpace(line)
	}
	password := loginPassword
	if password == "" {
		fmt.Fprint(out, "パスワード: ")
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	res, err := deps.auth.Login(cmd.Context(), auth.Credentials{Username: username, Password: password})
	if err != nil {
		return err
	}

	msg := res.Message
	if msg == "" {
		msg = "ログインしました。"
	}
	fmt.Fprintln(out, titleStyle.Render(msg))
	fmt.Fprintf(out, "user: %s (id %s)\n", res.Credential.Username, res.Credential.UserID)
	return nil
}
