package nats

import (
	"errors"
	"testing"
)

func TestGroupSubject(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		group   string
		want    string
		wantErr bool
	}{
		{name: "simple", prefix: "groups", group: "room42", want: "groups.room42"},
		{name: "dotted group", prefix: "groups", group: "floor1.room42", want: "groups.floor1.room42"},
		{name: "no prefix", prefix: "", group: "room42", want: "room42"},
		{name: "empty group", prefix: "groups", group: "", wantErr: true},
		{name: "single wildcard", prefix: "groups", group: "room*", wantErr: true},
		{name: "full wildcard", prefix: "groups", group: ">", wantErr: true},
		{name: "space", prefix: "groups", group: "room 42", wantErr: true},
		{name: "tab", prefix: "groups", group: "room\t42", wantErr: true},
		{name: "leading dot", prefix: "groups", group: ".room42", wantErr: true},
		{name: "trailing dot", prefix: "groups", group: "room42.", wantErr: true},
		{name: "empty token", prefix: "groups", group: "floor1..room42", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GroupSubject(tt.prefix, tt.group)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidGroup) {
					t.Errorf("GroupSubject() error = %v, want ErrInvalidGroup", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("GroupSubject() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("GroupSubject() = %q, want %q", got, tt.want)
			}
		})
	}
}
