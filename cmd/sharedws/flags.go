package main

// Flag structs to decouple cobra from logic for testing.

type ServeFlags struct {
	Daemonize bool
	PidFile   string
	LogFile   string
}

type NodeFlags struct {
	Name        string
	DisplayName string
	Root        string
	// update only
	OldName string
}

type ProjectFlags struct {
	Project   string
	NewName   string
	Workspace string
	Node      string
	Root      string
}

type TemplateCreateFlags struct {
	Type   string
	Name   string
	Output string
	Force  bool
}
