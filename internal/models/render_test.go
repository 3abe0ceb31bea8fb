package models

import (
	"strings"
	"testing"
)

func TestRenderContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "Plain text",
			content: "Projects usually run $5K-$30K.",
			want:    []string{"<p>", "Projects usually run"},
		},
		{
			name:    "Emphasis",
			content: "This is **important** to know.",
			want:    []string{"<strong>important</strong>"},
		},
		{
			name:    "Line breaks are hard breaks",
			content: "line one\nline two",
			want:    []string{"<br>"},
		},
		{
			name:    "Fenced code",
			content: "```\ncurl -X POST /api/chat\n```",
			want:    []string{"<pre"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderContent(tt.content)
			if err != nil {
				t.Fatalf("RenderContent() error = %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(string(got), want) {
					t.Errorf("RenderContent() = %q, want it to contain %q", got, want)
				}
			}
		})
	}
}

func TestLeadFormComplete(t *testing.T) {
	tests := []struct {
		name string
		form LeadForm
		want bool
	}{
		{
			name: "All required fields",
			form: LeadForm{Name: "Jane", Email: "jane@example.com", Company: "Acme"},
			want: true,
		},
		{
			name: "Missing company",
			form: LeadForm{Name: "Jane", Email: "jane@example.com"},
			want: false,
		},
		{
			name: "Empty form",
			form: LeadForm{},
			want: false,
		},
		{
			name: "Optional fields alone are not enough",
			form: LeadForm{Budget: "under-5k", Timeline: "asap"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.form.Complete(); got != tt.want {
				t.Errorf("Complete() = %v, want %v", got, tt.want)
			}
		})
	}
}
