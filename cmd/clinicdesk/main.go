package main

import "github.com/jmcleod/clinicdesk/cmd/clinicdesk/cmd"

func main() {
	cmd.Execute()
}
