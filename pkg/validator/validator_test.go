package validator

import (
	"testing"
)

func TestNew(t *testing.T) {
	v := New()
	if v == nil {
		t.Fatal("expected validator to be created")
	}
	if v.validate == nil {
		t.Fatal("expected internal validator to be initialized")
	}
}

func TestValidate_RequiredField(t *testing.T) {
	v := New()

	type TestStruct struct {
		Name string `validate:"required"`
	}

	tests := []struct {
		name    string
		input   TestStruct
		wantErr bool
	}{
		{
			name:    "valid - name provided",
			input:   TestStruct{Name: "test"},
			wantErr: false,
		},
		{
			name:    "invalid - name empty",
			input:   TestStruct{Name: ""},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSlug(t *testing.T) {
	v := New()

	type TestStruct struct {
		Slug string `validate:"omitempty,slug"`
	}

	tests := []struct {
		name    string
		input   TestStruct
		wantErr bool
	}{
		{name: "valid - simple", input: TestStruct{Slug: "my-team"}, wantErr: false},
		{name: "valid - numbers", input: TestStruct{Slug: "team123"}, wantErr: false},
		{name: "valid - empty (omitempty)", input: TestStruct{Slug: ""}, wantErr: false},
		{name: "invalid - uppercase", input: TestStruct{Slug: "MyTeam"}, wantErr: true},
		{name: "invalid - leading hyphen", input: TestStruct{Slug: "-team"}, wantErr: true},
		{name: "invalid - trailing hyphen", input: TestStruct{Slug: "team-"}, wantErr: true},
		{name: "invalid - consecutive hyphens", input: TestStruct{Slug: "my--team"}, wantErr: true},
		{name: "invalid - spaces", input: TestStruct{Slug: "my team"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateEventKind(t *testing.T) {
	v := New()

	type TestStruct struct {
		Kind string `validate:"omitempty,event_kind"`
	}

	tests := []struct {
		name    string
		input   TestStruct
		wantErr bool
	}{
		{name: "valid - rate limit", input: TestStruct{Kind: "RATE_LIMIT_EXCEEDED"}, wantErr: false},
		{name: "valid - csrf failure", input: TestStruct{Kind: "CSRF_FAILURE"}, wantErr: false},
		{name: "valid - lowercase accepted", input: TestStruct{Kind: "client_blocked"}, wantErr: false},
		{name: "valid - empty (omitempty)", input: TestStruct{Kind: ""}, wantErr: false},
		{name: "invalid - unknown kind", input: TestStruct{Kind: "SOMETHING_ELSE"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ErrorMessages(t *testing.T) {
	v := New()

	type TestStruct struct {
		Email   string `validate:"required,email"`
		Status  string `validate:"omitempty,oneof=new contacted qualified"`
		PerPage int    `validate:"omitempty,min=1"`
	}

	err := v.Validate(TestStruct{Email: "not-an-email", Status: "bogus"})
	if err == nil {
		t.Fatal("expected validation errors")
	}

	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(verrs), verrs)
	}

	byField := make(map[string]string, len(verrs))
	for _, e := range verrs {
		byField[e.Field] = e.Message
	}
	if byField["email"] != "must be a valid email address" {
		t.Errorf("unexpected email message: %q", byField["email"])
	}
	if byField["status"] != "must be one of: new contacted qualified" {
		t.Errorf("unexpected status message: %q", byField["status"])
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Name", "name"},
		{"PerPage", "per_page"},
		{"AccessToken", "access_token"},
		{"IP", "i_p"},
		{"email", "email"},
	}

	for _, tt := range tests {
		if got := toSnakeCase(tt.in); got != tt.want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
