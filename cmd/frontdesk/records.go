package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/frontdesk-ops/frontdesk/internal/types"
)

var checkinCmd = &cobra.Command{
	Use:     "checkin <member-id>",
	GroupID: "desk",
	Short:   "Record a front desk check-in",
	Long: `Record a visit. The member is resolved cache first so the name is stored
with the check-in; an unknown member is still checked in.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		db, err := current.cache()
		if err != nil {
			fatalf("%v", err)
		}

		c := &types.CheckIn{MemberID: args[0], Source: mustString(cmd, "source")}
		if resolver, err := current.resolver(); err == nil {
			if m, err := resolver.Resolve(ctx, args[0]); err == nil {
				c.MemberName = m.FullName()
				if m.MembershipStatus == types.StatusExpired {
					fmt.Printf("%s Membership expired\n", current.theme.RenderWarn("!"))
				}
			} else {
				current.logger.Warn("checking in unresolved member", "member_id", args[0], "error", err)
			}
		}

		id, err := db.InsertCheckIn(ctx, c)
		if err != nil {
			fatalf("%v", err)
		}
		name := c.MemberName
		if name == "" {
			name = args[0]
		}
		fmt.Printf("%s Checked in %s (#%d)\n", current.theme.RenderPass("✓"), name, id)
	},
}

var checkinsCmd = &cobra.Command{
	Use:     "checkins",
	GroupID: "desk",
	Short:   "List recent check-ins",
	Long: `List check-ins, newest first.

--since accepts a timestamp, a date, a duration or plain English:
  frontdesk checkins --since "2 hours ago"
  frontdesk checkins --since yesterday
  frontdesk checkins --since 2026-04-01 --format json`,
	Run: func(cmd *cobra.Command, args []string) {
		format, err := checkFormat(mustString(cmd, "format"))
		if err != nil {
			fatalf("%v", err)
		}
		since, err := parseSince(mustString(cmd, "since"), current.clock.Now())
		if err != nil {
			fatalf("%v", err)
		}
		limit, _ := cmd.Flags().GetInt("limit")

		db, err := current.cache()
		if err != nil {
			fatalf("%v", err)
		}
		checkIns, err := db.ListCheckIns(cmd.Context(), since, limit)
		if err != nil {
			fatalf("%v", err)
		}

		if format != formatTable {
			if err := writeStructured(os.Stdout, format, checkIns); err != nil {
				fatalf("failed to write check-ins: %v", err)
			}
			return
		}
		if len(checkIns) == 0 {
			fmt.Println("No check-ins")
			return
		}
		rows := make([][]string, 0, len(checkIns))
		for _, c := range checkIns {
			rows = append(rows, []string{
				c.Timestamp.Local().Format("2006-01-02 15:04"),
				c.MemberID,
				c.MemberName,
				c.Source,
			})
		}
		fmt.Println(current.theme.Table([]string{"Time", "Member", "Name", "Source"}, rows))
	},
}

var incidentCmd = &cobra.Command{
	Use:     "incident <description>",
	GroupID: "desk",
	Short:   "File an incident report",
	Args:    cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, err := current.cache()
		if err != nil {
			fatalf("%v", err)
		}
		id, err := db.InsertIncident(cmd.Context(), &types.Incident{
			MemberID:    mustString(cmd, "member"),
			Severity:    mustString(cmd, "severity"),
			Description: strings.Join(args, " "),
			ReportedBy:  mustString(cmd, "by"),
		})
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Incident #%d recorded\n", current.theme.RenderPass("✓"), id)
	},
}

var announceCmd = &cobra.Command{
	Use:     "announce <title> [body]",
	GroupID: "desk",
	Short:   "Post a staff announcement",
	Args:    cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		a := &types.Announcement{Title: args[0]}
		if len(args) == 2 {
			a.Body = args[1]
		}
		if until := mustString(cmd, "until"); until != "" {
			t, err := parseUntil(until, current.clock.Now())
			if err != nil {
				fatalf("%v", err)
			}
			a.ExpiresAt = &t
		}

		db, err := current.cache()
		if err != nil {
			fatalf("%v", err)
		}
		id, err := db.InsertAnnouncement(cmd.Context(), a)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Announcement #%d posted\n", current.theme.RenderPass("✓"), id)
	},
}

var kbCmd = &cobra.Command{
	Use:     "kb",
	GroupID: "desk",
	Short:   "Maintain the front desk knowledge base",
}

var kbAddCmd = &cobra.Command{
	Use:   "add <question> <answer>",
	Short: "Add a question and answer",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		tags, _ := cmd.Flags().GetStringSlice("tag")
		db, err := current.cache()
		if err != nil {
			fatalf("%v", err)
		}
		id, err := db.InsertKnowledgeBaseEntry(cmd.Context(), &types.KnowledgeBaseEntry{
			Question: args[0],
			Answer:   args[1],
			Tags:     tags,
		})
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Knowledge base entry #%d added\n", current.theme.RenderPass("✓"), id)
	},
}

func init() {
	checkinCmd.Flags().String("source", "desk", "Where the check-in came from: desk, scanner, manual")

	checkinsCmd.Flags().String("since", "", "Only check-ins at or after this time")
	checkinsCmd.Flags().IntP("limit", "n", 50, "Maximum number of check-ins (0 for all)")
	checkinsCmd.Flags().StringP("format", "f", formatTable, "Output format: table, json, yaml")

	incidentCmd.Flags().String("member", "", "Member involved, if any")
	incidentCmd.Flags().String("severity", "low", "Severity: low, medium, high")
	incidentCmd.Flags().String("by", "", "Staff member reporting")

	announceCmd.Flags().String("until", "", `Expiry, e.g. "friday" or "in 3 days"`)

	kbAddCmd.Flags().StringSlice("tag", nil, "Tag (repeatable)")
	kbCmd.AddCommand(kbAddCmd)

	rootCmd.AddCommand(checkinCmd, checkinsCmd, incidentCmd, announceCmd, kbCmd)
}

// parseUntil reads an expiry in the future: a date, a duration from now,
// or English.
func parseUntil(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
		return now.Add(d), nil
	}
	return parseSince(s, now)
}
