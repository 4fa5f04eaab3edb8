package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/softwareforge/forge/internal/membership"
)

var (
	invitationRole    string
	invitationProject string
)

func init() {
	invitationsCreateCmd.Flags().StringVar(&invitationProject, "project", "", "project guid (required)")
	invitationsCreateCmd.Flags().StringVar(&invitationRole, "role", string(membership.RoleReader), "reader, contributor or owner")
	_ = invitationsCreateCmd.MarkFlagRequired("project")

	invitationsCmd.AddCommand(invitationsGetCmd, invitationsListCmd, invitationsCreateCmd)
	rootCmd.AddCommand(invitationsCmd)
}

var invitationsCmd = &cobra.Command{
	Use:     "invitations",
	Aliases: []string{"invitation"},
	Short:   "Manage project invitation requests",
}

var invitationsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one invitation request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid invitation id %q", args[0])
		}
		var req membership.InvitationRequest
		if err := call(cmd, http.MethodGet, fmt.Sprintf("/api/v1/invitations/%d", id), nil, &req); err != nil {
			return err
		}
		return render(cmd, req, func() { printInvitation(cmd, req) })
	},
}

var invitationsListCmd = &cobra.Command{
	Use:   "list <username>",
	Short: "List the invitation requests of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var reqs []membership.InvitationRequest
		path := "/api/v1/invitations?username=" + url.QueryEscape(args[0])
		if err := call(cmd, http.MethodGet, path, nil, &reqs); err != nil {
			return err
		}
		return render(cmd, reqs, func() {
			for _, req := range reqs {
				printInvitation(cmd, req)
			}
		})
	},
}

var invitationsCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Request that a user be invited into a project",
	Long: `Record a request to invite a user into a project with a role.

Examples:
  forgectl invitations create 'CORP\alice' --project 0b7e... --role contributor`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectGUID, err := uuid.Parse(invitationProject)
		if err != nil {
			return fmt.Errorf("invalid project guid %q", invitationProject)
		}
		req := membership.InvitationRequest{
			ProjectGUID: projectGUID,
			Username:    args[0],
			UserRole:    membership.Role(invitationRole),
		}
		var created membership.InvitationRequest
		if err := call(cmd, http.MethodPost, "/api/v1/invitations", req, &created); err != nil {
			return err
		}
		return render(cmd, created, func() {
			cmd.Printf("Created invitation request %d\n", created.ID)
		})
	},
}

func printInvitation(cmd *cobra.Command, req membership.InvitationRequest) {
	cmd.Printf("%d\t%s\t%s\t%s\n", req.ID, req.Username, req.UserRole, req.ProjectGUID)
}
