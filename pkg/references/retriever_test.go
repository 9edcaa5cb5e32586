package references

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestRetriever(t *testing.T) *Retriever {
	t.Helper()
	r, err := New(zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return r
}

func TestRetriever_BuiltinCorpus(t *testing.T) {
	r := newTestRetriever(t)
	if r.Len() < 30 {
		t.Errorf("Expected the built-in corpus to have at least 30 documents, got %d", r.Len())
	}
}

func TestRetriever_Retrieve(t *testing.T) {
	r := newTestRetriever(t)

	tests := []struct {
		name      string
		query     string
		n         int
		wantFirst string
		wantLen   int
	}{
		{"resource type wins", "aws s3 create a bucket named logs", 3, "S3 buckets", 3},
		{"keyword match", "aws lambda deploy a serverless function", 1, "Lambda functions", 1},
		{"queue", "aws sqs create a fifo queue", 2, "SQS queues", 2},
		{"default limit", "aws ec2 launch an instance", 0, "EC2 instances", DefaultLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refs, err := r.Retrieve(context.Background(), tt.query, tt.n)
			if err != nil {
				t.Fatalf("Retrieve failed: %v", err)
			}
			if len(refs) != tt.wantLen {
				t.Fatalf("Expected %d references, got %d", tt.wantLen, len(refs))
			}
			if refs[0].Title != tt.wantFirst {
				t.Errorf("Expected first reference %q, got %q", tt.wantFirst, refs[0].Title)
			}
			for i := 1; i < len(refs); i++ {
				if refs[i].Score > refs[i-1].Score {
					t.Errorf("Expected references sorted by score, got %v before %v", refs[i-1].Score, refs[i].Score)
				}
			}
		})
	}
}

func TestRetriever_NoMatch(t *testing.T) {
	r := newTestRetriever(t)

	for _, query := range []string{"", "   ", "zzqx"} {
		refs, err := r.Retrieve(context.Background(), query, 3)
		if err != nil {
			t.Fatalf("Retrieve(%q) failed: %v", query, err)
		}
		if len(refs) != 0 {
			t.Errorf("Expected no references for %q, got %d", query, len(refs))
		}
	}
}

func TestRetriever_CanceledContext(t *testing.T) {
	r := newTestRetriever(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Retrieve(ctx, "s3 bucket", 3); err == nil {
		t.Error("Expected an error for a canceled context")
	}
}

func TestRetriever_LoadFile(t *testing.T) {
	r := newTestRetriever(t)
	before := r.Len()

	path := filepath.Join(t.TempDir(), "extra.yaml")
	content := `documents:
  - id: s3
    resource_type: s3
    title: Bucket conventions
    keywords: [bucket]
    content: Buckets are named <team>-<env>-<purpose>.
  - id: opensearch
    resource_type: opensearch
    title: OpenSearch domains
    keywords: [search, opensearch]
    content: opensearch CreateDomain {"DomainName"}.
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write corpus: %v", err)
	}
	if err := r.LoadFile(path); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if r.Len() != before+1 {
		t.Errorf("Expected %d documents, got %d", before+1, r.Len())
	}

	refs, err := r.Retrieve(context.Background(), "s3 bucket", 1)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(refs) != 1 || refs[0].Title != "Bucket conventions" {
		t.Errorf("Expected the replaced s3 document, got %+v", refs)
	}
	if refs[0].Source != path+":s3" {
		t.Errorf("Expected source %s:s3, got %s", path, refs[0].Source)
	}
}

func TestRetriever_LoadFileInvalid(t *testing.T) {
	r := newTestRetriever(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("documents:\n  - id: broken\n"), 0o600); err != nil {
		t.Fatalf("Failed to write corpus: %v", err)
	}
	if err := r.LoadFile(path); err == nil {
		t.Error("Expected validation error for a document without title and content")
	}
	if err := r.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for a missing file")
	}
}
