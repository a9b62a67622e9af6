package config

import (
	"reflect"
	"testing"
)

func TestBool(t *testing.T) {
	t.Setenv("FLAG_ON", "yes")
	t.Setenv("FLAG_OFF", "0")
	t.Setenv("FLAG_JUNK", "maybe")

	if !Bool("FLAG_ON", false) {
		t.Fatalf("yes should read as true")
	}
	if Bool("FLAG_OFF", true) {
		t.Fatalf("0 should read as false")
	}
	if Bool("FLAG_JUNK", true) {
		t.Fatalf("unrecognized value should read as false")
	}
	if !Bool("FLAG_UNSET", true) {
		t.Fatalf("unset key should use the fallback")
	}
}

func TestList(t *testing.T) {
	t.Setenv("ORIGINS", " https://a.example , ,https://b.example")

	got := List("ORIGINS", "")
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("List = %v, want %v", got, want)
	}

	got = List("ORIGINS_UNSET", "GET,POST")
	want = []string{"GET", "POST"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("List fallback = %v, want %v", got, want)
	}
}
