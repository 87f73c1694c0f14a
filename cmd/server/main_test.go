package main

import (
	"reflect"
	"testing"
)

func TestOriginPatterns(t *testing.T) {
	got := originPatterns([]string{"*", "https://staff.example.edu", "http://localhost:5173", "not a url"})
	want := []string{"*", "staff.example.edu", "localhost:5173"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}
