package app

import (
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    Command
		wantErr bool
	}{
		{"empty defaults to serve", []string{}, CommandServe, false},
		{"nil defaults to serve", nil, CommandServe, false},
		{"serve", []string{"serve"}, CommandServe, false},
		{"worker", []string{"worker"}, CommandWorker, false},
		{"migrate", []string{"migrate"}, CommandMigrate, false},
		{"migrate with direction", []string{"migrate", "down", "2"}, CommandMigrate, false},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck, false},
		{"unknown is rejected", []string{"serv"}, "", true},
		{"extra args ignored", []string{"worker", "--flag", "value"}, CommandWorker, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCommand(%v) err = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestParseCommand_ListsAvailable(t *testing.T) {
	_, err := ParseCommand([]string{"serv"})
	if err == nil {
		t.Fatal("expected error")
	}
	want := `unknown command "serv" (available: healthcheck, migrate, serve, worker)`
	if err.Error() != want {
		t.Errorf("err = %q, want %q", err.Error(), want)
	}
}

func TestParseMigrateArgs(t *testing.T) {
	tests := []struct {
		name          string
		args          []string
		wantDirection string
		wantSteps     int
		wantErr       bool
	}{
		{"no args is up", nil, "up", 0, false},
		{"explicit up", []string{"up"}, "up", 0, false},
		{"down defaults to one step", []string{"down"}, "down", 1, false},
		{"down with steps", []string{"down", "3"}, "down", 3, false},
		{"down with zero steps", []string{"down", "0"}, "", 0, true},
		{"down with garbage", []string{"down", "x"}, "", 0, true},
		{"unknown direction", []string{"sideways"}, "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			direction, steps, err := parseMigrateArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if direction != tt.wantDirection || steps != tt.wantSteps {
				t.Errorf("got (%q, %d), want (%q, %d)", direction, steps, tt.wantDirection, tt.wantSteps)
			}
		})
	}
}
