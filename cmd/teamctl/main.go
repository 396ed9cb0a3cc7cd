package main

import (
	"errors"
	"fmt"
	"os"
)

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "signup":
		err = commandSignup(args)
	case "login":
		err = commandLogin(args)
	case "logout":
		err = commandLogout()
	case "whoami":
		err = commandWhoami()
	case "teams":
		err = commandTeams(args)
	case "members":
		err = commandMembers(args)
	case "watch":
		err = commandWatch(args)
	case "version", "--version", "-v":
		fmt.Printf("teamctl %s\n", buildVersion)
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", describeError(err))
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `usage: teamctl <command> [flags]

commands:
  signup   --email --name [--password] [--api]
  login    --email [--password] [--api]
  logout
  whoami
  teams    list | create --name [--description] | show --team
           | update --team [--name] [--description] | delete --team
  members  list --team | add --team (--user | --email) [--role]
           | role --team --member --role | remove --team --member | leave --team
  watch    [--team]   live view of your teams, or of one team's members
  version
`)
}

var errNotLoggedIn = errors.New("please login first using 'teamctl login'")
