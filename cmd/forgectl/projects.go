package main

import (
	"net/http"

	"github.com/spf13/cobra"

	forgehttp "github.com/softwareforge/forge/internal/http"
	"github.com/softwareforge/forge/internal/project"
)

var projectTemplate string

func init() {
	projectsCreateCmd.Flags().StringVarP(&projectTemplate, "template", "t", "", "process template name (required)")
	_ = projectsCreateCmd.MarkFlagRequired("template")

	projectsCmd.AddCommand(projectsListCmd, projectsCreateCmd)
	rootCmd.AddCommand(projectsCmd)
}

var projectsCmd = &cobra.Command{
	Use:     "projects",
	Aliases: []string{"project"},
	Short:   "Manage team projects",
}

var projectsListCmd = &cobra.Command{
	Use:   "list <collection-guid>",
	Short: "List the projects of a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := collectionPath(args[0])
		if err != nil {
			return err
		}
		var resp forgehttp.ProjectList
		if err := call(cmd, http.MethodGet, path+"/projects", nil, &resp); err != nil {
			return err
		}
		return render(cmd, resp, func() {
			for _, p := range resp.Projects {
				cmd.Printf("%d\t%s\t%s\n", p.ID, p.GUID, p.Name)
			}
		})
	},
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create <collection-guid> <name>",
	Short: "Create a project from a process template",
	Long: `Create a team project in a collection and wait for the server to
finish creating it.

Examples:
  forgectl projects create 6f1d7c1a-2b4e-4c3d-9a8b-000000000001 Fabrikam --template Agile`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := collectionPath(args[0])
		if err != nil {
			return err
		}
		var p project.Project
		req := forgehttp.CreateProjectRequest{Name: args[1], Template: projectTemplate}
		if err := call(cmd, http.MethodPost, path+"/projects", req, &p); err != nil {
			return err
		}
		return render(cmd, p, func() {
			cmd.Printf("Created project %s (%s)\n", p.Name, p.GUID)
		})
	},
}
