package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/frontdesk-ops/frontdesk/internal/remote"
	"github.com/frontdesk-ops/frontdesk/internal/types"
)

var lookupCmd = &cobra.Command{
	Use:     "lookup <member-id>",
	GroupID: "desk",
	Short:   "Resolve a member by directory id, cache first",
	Long: `Resolve a member by the id the remote directory assigned. A cached copy is
returned without touching the network; a miss is fetched from the directory
and cached. --refresh always asks the directory.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		refresh, _ := cmd.Flags().GetBool("refresh")
		format, err := checkFormat(mustString(cmd, "format"))
		if err != nil {
			fatalf("%v", err)
		}

		resolver, err := current.resolver()
		if err != nil {
			fatalf("%v", err)
		}

		var m *types.Member
		if refresh {
			m, err = resolver.Refresh(cmd.Context(), args[0])
		} else {
			m, err = resolver.Resolve(cmd.Context(), args[0])
		}
		if errors.Is(err, types.ErrNotFound) {
			fatalf("member %s not found", args[0])
		}
		if err != nil {
			fatalf("%v", describe(err))
		}
		printMembers(format, []*types.Member{m})
	},
}

var searchCmd = &cobra.Command{
	Use:     "search <term>",
	GroupID: "desk",
	Short:   "Search members by name, email or phone",
	Long: `Search the local cache. When nothing matches locally the remote directory is
searched and the results cached; --local never leaves the machine.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		localOnly, _ := cmd.Flags().GetBool("local")
		format, err := checkFormat(mustString(cmd, "format"))
		if err != nil {
			fatalf("%v", err)
		}

		resolver, err := current.resolver()
		if err != nil {
			fatalf("%v", err)
		}
		members, err := resolver.Search(cmd.Context(), args[0], localOnly)
		if err != nil {
			fatalf("%v", describe(err))
		}
		if len(members) == 0 && format == formatTable {
			fmt.Println("No members found")
			return
		}
		printMembers(format, members)
	},
}

var memberCmd = &cobra.Command{
	Use:     "member",
	GroupID: "desk",
	Short:   "Create, reconcile and update members",
}

var memberCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a walk-in member locally",
	Long: `Create a member in the local cache without a directory id. The record is
queued for cloud sync and can be reconciled later with 'member attach'.
Without --first or --last on a terminal, a form asks for the details.`,
	Run: func(cmd *cobra.Command, args []string) {
		db, err := current.cache()
		if err != nil {
			fatalf("%v", err)
		}
		m := &types.Member{
			FirstName: mustString(cmd, "first"),
			LastName:  mustString(cmd, "last"),
			Email:     mustString(cmd, "email"),
			Phone:     mustString(cmd, "phone"),
		}
		if m.FirstName == "" && m.LastName == "" && term.IsTerminal(int(os.Stdin.Fd())) {
			if err := promptMember(m); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					fatalf("cancelled")
				}
				fatalf("%v", err)
			}
		}
		id, err := db.CreateLocalMember(cmd.Context(), m)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Created %s (local id %d)\n", current.theme.RenderPass("✓"), m.FullName(), id)
	},
}

// promptMember asks for the fields a walk-in registration needs when they
// were not given as flags.
func promptMember(m *types.Member) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("First name").
				Value(&m.FirstName).
				Validate(requireText("first name")),
			huh.NewInput().
				Title("Last name").
				Value(&m.LastName),
			huh.NewInput().
				Title("Email").
				Value(&m.Email),
			huh.NewInput().
				Title("Phone").
				Value(&m.Phone),
		),
	)
	return form.Run()
}

func requireText(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

var memberAttachCmd = &cobra.Command{
	Use:   "attach <local-id> <member-id>",
	Short: "Link a locally created member to its directory id",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		localID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fatalf("invalid local id %q", args[0])
		}
		db, err := current.cache()
		if err != nil {
			fatalf("%v", err)
		}
		if err := db.AttachExternalID(cmd.Context(), localID, args[1]); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Local member %d is now %s\n", current.theme.RenderPass("✓"), localID, args[1])
	},
}

var memberUpdateCmd = &cobra.Command{
	Use:   "update <member-id>",
	Short: "Update a member in the directory and the cache",
	Long: `Send the changed fields to the remote directory and cache the result. Only
flags that are given are changed.

Example usage:
  frontdesk member update m-1042 --email ada@example.com
  frontdesk member update m-1042 --status ACTIVE --expiry 2027-01-31`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		patch, err := memberPatchFromFlags(cmd)
		if err != nil {
			fatalf("%v", err)
		}
		if patch.IsEmpty() {
			fatalf("nothing to update")
		}
		resolver, err := current.resolver()
		if err != nil {
			fatalf("%v", err)
		}
		m, err := resolver.Update(cmd.Context(), args[0], patch)
		if err != nil {
			fatalf("%v", describe(err))
		}
		printMembers(formatTable, []*types.Member{m})
	},
}

func init() {
	lookupCmd.Flags().Bool("refresh", false, "Skip the cache and fetch from the directory")
	lookupCmd.Flags().StringP("format", "f", formatTable, "Output format: table, json, yaml")

	searchCmd.Flags().Bool("local", false, "Search the local cache only")
	searchCmd.Flags().StringP("format", "f", formatTable, "Output format: table, json, yaml")

	memberCreateCmd.Flags().String("first", "", "First name")
	memberCreateCmd.Flags().String("last", "", "Last name")
	memberCreateCmd.Flags().String("email", "", "Email address")
	memberCreateCmd.Flags().String("phone", "", "Phone number")

	memberUpdateCmd.Flags().String("first", "", "First name")
	memberUpdateCmd.Flags().String("last", "", "Last name")
	memberUpdateCmd.Flags().String("email", "", "Email address")
	memberUpdateCmd.Flags().String("phone", "", "Phone number")
	memberUpdateCmd.Flags().String("status", "", "Membership status: ACTIVE, EXPIRED, PENDING")
	memberUpdateCmd.Flags().String("expiry", "", "Membership expiry date (YYYY-MM-DD)")

	memberCmd.AddCommand(memberCreateCmd, memberAttachCmd, memberUpdateCmd)
	rootCmd.AddCommand(lookupCmd, searchCmd, memberCmd)
}

// memberPatchFromFlags sets only the fields whose flags were given.
func memberPatchFromFlags(cmd *cobra.Command) (remote.MemberPatch, error) {
	var patch remote.MemberPatch
	set := func(name string) *string {
		if !cmd.Flags().Changed(name) {
			return nil
		}
		v := mustString(cmd, name)
		return &v
	}
	patch.FirstName = set("first")
	patch.LastName = set("last")
	patch.Email = set("email")
	patch.Phone = set("phone")
	patch.MembershipExpiry = set("expiry")
	if s := set("status"); s != nil {
		status, err := parseStatusFlag(*s)
		if err != nil {
			return remote.MemberPatch{}, err
		}
		patch.MembershipStatus = &status
	}
	return patch, nil
}

// parseStatusFlag accepts the statuses a desk may set. UNKNOWN is only ever
// a read-side value, so it is rejected along with typos.
func parseStatusFlag(s string) (types.MembershipStatus, error) {
	status := types.ParseMembershipStatus(s)
	if status == types.StatusUnknown {
		return "", fmt.Errorf("invalid --status %q (want ACTIVE, EXPIRED or PENDING)", s)
	}
	return status, nil
}

func printMembers(format string, members []*types.Member) {
	if format != formatTable {
		if err := writeStructured(os.Stdout, format, members); err != nil {
			fatalf("failed to write members: %v", err)
		}
		return
	}

	rows := make([][]string, 0, len(members))
	for _, m := range members {
		id := m.ExternalID
		if m.IsLocalOnly() {
			id = current.theme.RenderMuted(fmt.Sprintf("local:%d", m.LocalID))
		}
		expiry := ""
		if m.MembershipExpiry != nil {
			expiry = m.MembershipExpiry.Format("2006-01-02")
		}
		rows = append(rows, []string{
			id,
			m.FullName(),
			renderMembership(m.MembershipStatus),
			expiry,
			m.Email,
			m.Phone,
		})
	}
	fmt.Println(current.theme.Table([]string{"ID", "Name", "Status", "Expires", "Email", "Phone"}, rows))
}

func renderMembership(s types.MembershipStatus) string {
	switch s {
	case types.StatusActive:
		return current.theme.RenderPass(string(s))
	case types.StatusExpired:
		return current.theme.RenderFail(string(s))
	case types.StatusPending:
		return current.theme.RenderWarn(string(s))
	default:
		return current.theme.RenderMuted(string(s))
	}
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

// describe adds a hint for errors the operator can act on.
func describe(err error) error {
	switch {
	case errors.Is(err, types.ErrConfigurationMissing):
		return fmt.Errorf("%w (set remote.base_url and remote.api_key or remote.client_id/client_secret)", err)
	case errors.Is(err, types.ErrAuthenticationRejected):
		return fmt.Errorf("%w (check the directory credentials)", err)
	case types.IsRetryable(err):
		return fmt.Errorf("%w (the directory is unreachable; cached data is still available with --local)", err)
	default:
		return err
	}
}
