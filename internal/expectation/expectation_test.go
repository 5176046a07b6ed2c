package expectation

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"packagemanager/internal/apperrors"
	"packagemanager/internal/pkgcontainer"
)

func newCopy(id string, priority int) *Expectation {
	spec := &FileCopy{}
	spec.StartRequirement.Sources = []pkgcontainer.PackageContainerOnPackage{{ContainerID: "source0"}}
	spec.EndRequirement.Targets = []pkgcontainer.PackageContainerOnPackage{{ContainerID: "target0"}}
	spec.EndRequirement.Content.FilePath = "amb.mp4"
	spec.WorkOptions.RemoveDelay = 500
	return &Expectation{
		ID:           id,
		ManagerID:    "manager0",
		Priority:     priority,
		FromPackages: []FromPackage{{ID: "pkg0", ExpectedContentVersionHash: "h1"}},
		StatusReport: StatusReport{SendReport: true, Label: "Copy amb.mp4"},
		Spec:         spec,
	}
}

func TestExpectation_JSON(t *testing.T) {
	t.Parallel()

	exp := newCopy("exp0", 10)
	exp.DependsOnFulfilled = []string{"other"}

	data, err := json.Marshal(exp)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	for _, want := range []string{`"type":"file_copy"`, `"dependsOnFullfilled":["other"]`, `"removeDelay":500`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("Expected %s in %s", want, data)
		}
	}

	var got Expectation
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	fc, ok := got.Spec.(*FileCopy)
	if !ok {
		t.Fatalf("Expected *FileCopy, got %T", got.Spec)
	}
	if got.ID != "exp0" || got.Priority != 10 || got.ManagerID != "manager0" {
		t.Errorf("Unexpected header: %+v", got)
	}
	if fc.EndRequirement.Content.FilePath != "amb.mp4" || fc.Options().RemoveDelay != 500 {
		t.Errorf("Unexpected spec: %+v", fc)
	}
	if len(got.DependsOnFulfilled) != 1 || got.DependsOnFulfilled[0] != "other" {
		t.Errorf("Expected dependsOnFullfilled [other], got %v", got.DependsOnFulfilled)
	}
}

func TestExpectation_UnmarshalUnknownType(t *testing.T) {
	t.Parallel()

	var exp Expectation
	err := json.Unmarshal([]byte(`{"id":"x","type":"teleport"}`), &exp)
	if err == nil || !strings.Contains(err.Error(), "unknown expectation type") {
		t.Errorf("Expected unknown type error, got %v", err)
	}
}

func TestExpectation_Validate(t *testing.T) {
	t.Parallel()

	noTargets := newCopy("exp0", 0)
	noTargets.Spec.(*FileCopy).EndRequirement.Targets = nil

	tests := []struct {
		name    string
		exp     *Expectation
		wantErr bool
	}{
		{name: "valid", exp: newCopy("exp0", 0)},
		{name: "missing id", exp: newCopy("", 0), wantErr: true},
		{name: "missing spec", exp: &Expectation{ID: "exp0"}, wantErr: true},
		{name: "no targets", exp: noTargets, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.exp.Validate()
			if tt.wantErr && !errors.Is(err, apperrors.ErrValidation) {
				t.Errorf("Expected validation error, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestEqualExceptPriority(t *testing.T) {
	t.Parallel()

	a := newCopy("exp0", 1)
	b := newCopy("exp0", 50)
	if Equal(a, b) {
		t.Error("Expected expectations with different priority to differ")
	}
	if !EqualExceptPriority(a, b) {
		t.Error("Expected expectations to be equal apart from priority")
	}

	c := newCopy("exp0", 1)
	c.Spec.(*FileCopy).EndRequirement.Content.FilePath = "other.mp4"
	if EqualExceptPriority(a, c) {
		t.Error("Expected content change to be detected")
	}
}

func TestMergeFromPackages(t *testing.T) {
	t.Parallel()

	a := []FromPackage{{ID: "p1", ExpectedContentVersionHash: "h"}}
	b := []FromPackage{{ID: "p1", ExpectedContentVersionHash: "h"}, {ID: "p2"}}

	got := MergeFromPackages(a, b)
	if len(got) != 2 || got[0].ID != "p1" || got[1].ID != "p2" {
		t.Errorf("Expected [p1 p2], got %+v", got)
	}
	if len(a) != 1 {
		t.Error("Expected input to be left untouched")
	}
}

func TestType_IsCopy(t *testing.T) {
	t.Parallel()

	if !TypeFileCopy.IsCopy() || !TypeQuantelClipCopy.IsCopy() {
		t.Error("Expected copy types to report IsCopy")
	}
	if TypeMediaFileScan.IsCopy() {
		t.Error("Expected scan not to be a copy")
	}
}
