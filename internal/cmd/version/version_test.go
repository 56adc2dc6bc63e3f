package version

import (
	"testing"

	"github.com/schmitthub/ralph/internal/cmdutil"
	"github.com/schmitthub/ralph/internal/iostreams/iostreamstest"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name    string
		version string
		commit  string
		want    string
	}{
		{
			name:    "version only",
			version: "1.2.3",
			want:    "ralph version 1.2.3\n",
		},
		{
			name:    "version with commit",
			version: "v1.2.3",
			commit:  "abc1234",
			want:    "ralph version 1.2.3 (abc1234)\n",
		},
		{
			name: "empty version",
			want: "ralph version DEV\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Format(tt.version, tt.commit)
			if got != tt.want {
				t.Errorf("Format(%q, %q) = %q, want %q", tt.version, tt.commit, got, tt.want)
			}
		})
	}
}

func TestNewCmdVersion(t *testing.T) {
	tio := iostreamstest.New()
	f := &cmdutil.Factory{Version: "0.3.0", Commit: "deadbee", IOStreams: tio.IOStreams}

	cmd := NewCmdVersion(f)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() returned error: %v", err)
	}
	if got := tio.OutBuf.String(); got != "ralph version 0.3.0 (deadbee)\n" {
		t.Errorf("unexpected output %q", got)
	}
}
