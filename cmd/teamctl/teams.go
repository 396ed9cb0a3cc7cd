package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/splax/teamsync/pkg/protocol"
)

func commandTeams(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: teamctl teams [list|create|show|update|delete]")
	}
	switch args[0] {
	case "list":
		return teamsList()
	case "create":
		return teamsCreate(args[1:])
	case "show":
		return teamsShow(args[1:])
	case "update":
		return teamsUpdate(args[1:])
	case "delete":
		return teamsDelete(args[1:])
	default:
		return fmt.Errorf("unknown teams command: %s", args[0])
	}
}

func teamsList() error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	api, s, err := authorized(ctx)
	if err != nil {
		return err
	}
	teams, err := api.ListTeams(ctx, s.AccessToken)
	if err != nil {
		return err
	}
	return renderTeams(os.Stdout, teams)
}

func teamsCreate(args []string) error {
	fs := flag.NewFlagSet("teams create", flag.ExitOnError)
	name := fs.String("name", "", "Team name")
	description := fs.String("description", "", "Optional description")
	fs.Parse(args)
	if strings.TrimSpace(*name) == "" {
		return errors.New("--name is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	api, s, err := authorized(ctx)
	if err != nil {
		return err
	}
	input := protocol.CreateTeamRequest{Name: *name}
	if d := strings.TrimSpace(*description); d != "" {
		input.Description = &d
	}
	team, err := api.CreateTeam(ctx, s.AccessToken, input)
	if err != nil {
		return err
	}
	fmt.Printf("team created: %s (%s)\n", team.ID, team.Name)
	return nil
}

func teamsShow(args []string) error {
	fs := flag.NewFlagSet("teams show", flag.ExitOnError)
	teamID := fs.String("team", "", "Team identifier")
	fs.Parse(args)
	if strings.TrimSpace(*teamID) == "" {
		return errors.New("--team is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	api, s, err := authorized(ctx)
	if err != nil {
		return err
	}
	team, err := api.GetTeam(ctx, s.AccessToken, *teamID)
	if err != nil {
		return err
	}
	members, err := api.ListMembers(ctx, s.AccessToken, *teamID)
	if err != nil {
		return err
	}
	return renderTeamDetail(os.Stdout, team, members)
}

func teamsUpdate(args []string) error {
	fs := flag.NewFlagSet("teams update", flag.ExitOnError)
	teamID := fs.String("team", "", "Team identifier")
	name := fs.String("name", "", "New name")
	description := fs.String("description", "", "New description")
	fs.Parse(args)
	if strings.TrimSpace(*teamID) == "" {
		return errors.New("--team is required")
	}
	var updates protocol.TeamUpdates
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			updates.Name = name
		case "description":
			updates.Description = description
		}
	})
	if updates.Name == nil && updates.Description == nil {
		return errors.New("nothing to update: pass --name or --description")
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	api, s, err := authorized(ctx)
	if err != nil {
		return err
	}
	team, err := api.UpdateTeam(ctx, s.AccessToken, *teamID, updates)
	if err != nil {
		return err
	}
	fmt.Printf("team updated: %s (%s)\n", team.ID, team.Name)
	return nil
}

func teamsDelete(args []string) error {
	fs := flag.NewFlagSet("teams delete", flag.ExitOnError)
	teamID := fs.String("team", "", "Team identifier")
	fs.Parse(args)
	if strings.TrimSpace(*teamID) == "" {
		return errors.New("--team is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	api, s, err := authorized(ctx)
	if err != nil {
		return err
	}
	if err := api.DeleteTeam(ctx, s.AccessToken, *teamID); err != nil {
		return err
	}
	fmt.Printf("team deleted: %s\n", *teamID)
	return nil
}

func commandMembers(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: teamctl members [list|add|role|remove|leave]")
	}
	switch args[0] {
	case "list":
		return membersList(args[1:])
	case "add":
		return membersAdd(args[1:])
	case "role":
		return membersRole(args[1:])
	case "remove":
		return membersRemove(args[1:])
	case "leave":
		return membersLeave(args[1:])
	default:
		return fmt.Errorf("unknown members command: %s", args[0])
	}
}

func membersList(args []string) error {
	fs := flag.NewFlagSet("members list", flag.ExitOnError)
	teamID := fs.String("team", "", "Team identifier")
	fs.Parse(args)
	if strings.TrimSpace(*teamID) == "" {
		return errors.New("--team is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	api, s, err := authorized(ctx)
	if err != nil {
		return err
	}
	members, err := api.ListMembers(ctx, s.AccessToken, *teamID)
	if err != nil {
		return err
	}
	return renderMembers(os.Stdout, members)
}

func membersAdd(args []string) error {
	fs := flag.NewFlagSet("members add", flag.ExitOnError)
	teamID := fs.String("team", "", "Team identifier")
	userID := fs.String("user", "", "User identifier")
	email := fs.String("email", "", "User email")
	role := fs.String("role", protocol.RoleMember, "Role (OWNER|ADMIN|MEMBER)")
	fs.Parse(args)
	if strings.TrimSpace(*teamID) == "" {
		return errors.New("--team is required")
	}
	if (*userID == "") == (*email == "") {
		return errors.New("exactly one of --user and --email is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	api, s, err := authorized(ctx)
	if err != nil {
		return err
	}
	member, err := api.AddMember(ctx, s.AccessToken, *teamID, protocol.AddMemberRequest{
		UserID: *userID,
		Email:  *email,
		Role:   strings.ToUpper(*role),
	})
	if err != nil {
		return err
	}
	fmt.Printf("member added: %s user=%s role=%s\n", member.ID, member.UserID, member.Role)
	return nil
}

func membersRole(args []string) error {
	fs := flag.NewFlagSet("members role", flag.ExitOnError)
	teamID := fs.String("team", "", "Team identifier")
	memberID := fs.String("member", "", "Membership identifier")
	role := fs.String("role", "", "New role (OWNER|ADMIN|MEMBER)")
	fs.Parse(args)
	if strings.TrimSpace(*teamID) == "" || strings.TrimSpace(*memberID) == "" || strings.TrimSpace(*role) == "" {
		return errors.New("--team, --member and --role are required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	api, s, err := authorized(ctx)
	if err != nil {
		return err
	}
	member, err := api.ChangeRole(ctx, s.AccessToken, *teamID, *memberID, strings.ToUpper(*role))
	if err != nil {
		return err
	}
	fmt.Printf("role updated: %s role=%s\n", member.ID, member.Role)
	return nil
}

func membersRemove(args []string) error {
	fs := flag.NewFlagSet("members remove", flag.ExitOnError)
	teamID := fs.String("team", "", "Team identifier")
	memberID := fs.String("member", "", "Membership identifier")
	fs.Parse(args)
	if strings.TrimSpace(*teamID) == "" || strings.TrimSpace(*memberID) == "" {
		return errors.New("--team and --member are required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	api, s, err := authorized(ctx)
	if err != nil {
		return err
	}
	if err := api.RemoveMember(ctx, s.AccessToken, *teamID, *memberID); err != nil {
		return err
	}
	fmt.Printf("member removed: %s\n", *memberID)
	return nil
}

func membersLeave(args []string) error {
	fs := flag.NewFlagSet("members leave", flag.ExitOnError)
	teamID := fs.String("team", "", "Team identifier")
	fs.Parse(args)
	if strings.TrimSpace(*teamID) == "" {
		return errors.New("--team is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	api, s, err := authorized(ctx)
	if err != nil {
		return err
	}
	members, err := api.ListMembers(ctx, s.AccessToken, *teamID)
	if err != nil {
		return err
	}
	mine, ok := findMember(members, s.UserID)
	if !ok {
		return fmt.Errorf("you are not a member of %s", *teamID)
	}
	if err := api.RemoveMember(ctx, s.AccessToken, *teamID, mine.ID); err != nil {
		return err
	}
	fmt.Printf("left team %s\n", *teamID)
	return nil
}

func findMember(members []protocol.Member, userID string) (protocol.Member, bool) {
	for _, m := range members {
		if m.UserID == userID {
			return m, true
		}
	}
	return protocol.Member{}, false
}

func renderTeams(w io.Writer, teams []protocol.Team) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tOWNER\tUPDATED")
	for _, t := range teams {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Name, t.OwnerID, t.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func renderMembers(w io.Writer, members []protocol.Member) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MEMBER\tUSER\tROLE\tEMAIL")
	for _, m := range members {
		email := "-"
		if m.User != nil && m.User.Email != "" {
			email = m.User.Email
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.UserID, m.Role, email)
	}
	return tw.Flush()
}

func renderTeamDetail(w io.Writer, team protocol.Team, members []protocol.Member) error {
	fmt.Fprintf(w, "%s (%s)\n", team.Name, team.ID)
	if team.Description != nil && *team.Description != "" {
		fmt.Fprintf(w, "%s\n", *team.Description)
	}
	fmt.Fprintln(w)
	return renderMembers(w, members)
}
