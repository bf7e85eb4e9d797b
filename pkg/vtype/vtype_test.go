package vtype

import (
	"errors"
	"testing"
)

func TestWidth(t *testing.T) {
	tests := []struct {
		typ  Type
		want int
	}{
		{Top, 1},
		{OneWord, 1},
		{TwoWord, 2},
		{Int, 1},
		{Float, 1},
		{Long, 2},
		{Double, 2},
		{Null, 1},
		{String, 1},
		{Uninitialized(4), 1},
	}
	for _, tt := range tests {
		if got := tt.typ.Width(); got != tt.want {
			t.Errorf("%s.Width() = %d, want %d", tt.typ, got, tt.want)
		}
	}
}

func TestIsAssignable(t *testing.T) {
	tests := []struct {
		name   string
		target Type
		actual Type
		want   bool
	}{
		{"int to int", Int, Int, true},
		{"float to int", Int, Float, false},
		{"long to long", Long, Long, true},
		{"double to long", Long, Double, false},
		{"int to oneword", OneWord, Int, true},
		{"ref to oneword", OneWord, String, true},
		{"long to oneword", OneWord, Long, false},
		{"top to oneword", OneWord, Top, false},
		{"long to twoword", TwoWord, Long, true},
		{"double to twoword", TwoWord, Double, true},
		{"int to twoword", TwoWord, Int, false},
		{"ref to ref", AnyRef, String, true},
		{"other class to ref", Ref("java/util/List"), String, true},
		{"null to ref", AnyRef, Null, true},
		{"int to ref", AnyRef, Int, false},
		{"uninitialized to ref", AnyRef, Uninitialized(0), false},
		{"null to null", Null, Null, true},
		{"ref to null", Null, String, false},
		{"same site", Uninitialized(3), Uninitialized(3), true},
		{"other site", Uninitialized(3), Uninitialized(7), false},
		{"any site", AnyUninitialized, Uninitialized(7), true},
		{"this as receiver", AnyUninitialized, Ref("Foo"), true},
		{"int to top", Top, Int, true},
		{"long to top", Top, Long, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAssignable(tt.target, tt.actual); got != tt.want {
				t.Errorf("IsAssignable(%s, %s) = %v, want %v", tt.target, tt.actual, got, tt.want)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	if err := Check(Int, Int, 0); err != nil {
		t.Fatalf("Check(int, int) = %v, want nil", err)
	}

	err := Check(Long, Float, 12)
	var mm *MismatchError
	if !errors.As(err, &mm) {
		t.Fatalf("Check(long, float) = %v, want *MismatchError", err)
	}
	if mm.Offset != 12 || mm.Expected != Long || mm.Actual != Float {
		t.Errorf("MismatchError = %+v", mm)
	}
	if got, want := err.Error(), "offset 12: expected long, got float"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestElement(t *testing.T) {
	tests := []struct {
		array Type
		want  Type
	}{
		{Ref("[I"), Int},
		{Ref("[J"), Long},
		{Ref("[Ljava/lang/String;"), String},
		{Ref("[[D"), Ref("[D")},
		{Null, Null},
		{String, Object},
	}
	for _, tt := range tests {
		if got := tt.array.Element(); got != tt.want {
			t.Errorf("%s.Element() = %s, want %s", tt.array, got, tt.want)
		}
	}
}

func TestMeet(t *testing.T) {
	tests := []struct {
		a, b Type
		want Type
	}{
		{Int, Int, Int},
		{Int, Float, Top},
		{String, String, String},
		{String, Ref("java/util/List"), Object},
		{Null, String, String},
		{String, Null, String},
		{Long, Top, Top},
	}
	for _, tt := range tests {
		if got := Meet(tt.a, tt.b); got != tt.want {
			t.Errorf("Meet(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
}
