package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	forgehttp "github.com/softwareforge/forge/internal/http"
	"github.com/softwareforge/forge/internal/project"
)

func init() {
	collectionsCmd.AddCommand(collectionsListCmd, collectionsGetCmd, collectionsCreateCmd,
		collectionsRemoveCmd, collectionsTemplatesCmd)
	rootCmd.AddCommand(collectionsCmd)
}

var collectionsCmd = &cobra.Command{
	Use:     "collections",
	Aliases: []string{"collection", "tpc"},
	Short:   "Manage team project collections",
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List started collections and their projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp forgehttp.CollectionList
		if err := call(cmd, http.MethodGet, "/api/v1/collections", nil, &resp); err != nil {
			return err
		}
		return render(cmd, resp, func() {
			for _, tc := range resp.Collections {
				printCollection(cmd, tc)
			}
		})
	},
}

var collectionsGetCmd = &cobra.Command{
	Use:   "get <guid>",
	Short: "Show one collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := collectionPath(args[0])
		if err != nil {
			return err
		}
		var tc project.TeamCollection
		if err := call(cmd, http.MethodGet, path, nil, &tc); err != nil {
			return err
		}
		return render(cmd, tc, func() { printCollection(cmd, tc) })
	},
}

var collectionsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a collection and wait for servicing to finish",
	Long: `Create a team project collection. The call returns once the server
has finished servicing the new collection, which can take several minutes.

Examples:
  forgectl collections create Alpha`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var tc project.TeamCollection
		req := forgehttp.CreateCollectionRequest{Name: args[0]}
		if err := call(cmd, http.MethodPost, "/api/v1/collections", req, &tc); err != nil {
			return err
		}
		return render(cmd, tc, func() {
			cmd.Printf("Created collection %s (%s)\n", tc.Name, tc.GUID)
		})
	},
}

var collectionsRemoveCmd = &cobra.Command{
	Use:   "remove <guid>",
	Short: "Detach a collection and drop its database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := collectionPath(args[0])
		if err != nil {
			return err
		}
		if err := call(cmd, http.MethodDelete, path, nil, nil); err != nil {
			return err
		}
		cmd.Printf("Removed collection %s\n", args[0])
		return nil
	},
}

var collectionsTemplatesCmd = &cobra.Command{
	Use:   "templates <guid>",
	Short: "List the process templates of a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := collectionPath(args[0])
		if err != nil {
			return err
		}
		var resp forgehttp.TemplateList
		if err := call(cmd, http.MethodGet, path+"/templates", nil, &resp); err != nil {
			return err
		}
		return render(cmd, resp, func() {
			for _, name := range resp.Templates {
				cmd.Println(name)
			}
		})
	},
}

// collectionPath validates guid before it is put in a URL.
func collectionPath(guid string) (string, error) {
	id, err := uuid.Parse(guid)
	if err != nil {
		return "", fmt.Errorf("invalid collection guid %q", guid)
	}
	return "/api/v1/collections/" + url.PathEscape(id.String()), nil
}

func printCollection(cmd *cobra.Command, tc project.TeamCollection) {
	cmd.Printf("%s\t%s\t%d project(s)\n", tc.GUID, tc.Name, len(tc.Projects))
	for _, p := range tc.Projects {
		cmd.Printf("  %s\t%s\n", p.GUID, p.Name)
	}
}
