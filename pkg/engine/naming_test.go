package engine

import "testing"

func TestKebabCase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"secrets_setup", "secrets-setup"},
		{"SecretsSetup", "secrets-setup"},
		{"secretsSetup", "secrets-setup"},
		{"setupS3Bucket", "setup-s3-bucket"},
		{"HTTPServerSetup", "http-server-setup"},
		{"create__queue", "create-queue"},
		{"_private", "private"},
		{"already-kebab", "already-kebab"},
		{"deploy", "deploy"},
		{"DNS", "dns"},
	}

	for _, tt := range tests {
		if got := KebabCase(tt.in); got != tt.want {
			t.Errorf("KebabCase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFuncIdentifier(t *testing.T) {
	q := &queueOps{}

	tests := []struct {
		name    string
		fn      any
		want    string
		wantErr bool
	}{
		{"package function", SecretsSetup, "SecretsSetup", false},
		{"method expression", (*queueOps).Create, "Create", false},
		{"method value", q.Purge, "Purge", false},
		{"closure", func() {}, "", true},
		{"not a function", 42, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := funcIdentifier(tt.fn)
			if (err != nil) != tt.wantErr {
				t.Fatalf("funcIdentifier() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("funcIdentifier() = %q, want %q", got, tt.want)
			}
		})
	}
}
