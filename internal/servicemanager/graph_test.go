package servicemanager

import (
	"context"
	"encoding/json"
	"testing"
)

func newTestGraphService(t *testing.T) *graphService {
	t.Helper()
	svc, err := newGraphService(nil)
	if err != nil {
		t.Fatalf("newGraphService: %v", err)
	}
	return svc.(*graphService)
}

func TestGraphService_CreateGetUpdateDelete(t *testing.T) {
	svc := newTestGraphService(t)

	createTool := &graphCreateTool{svc}
	result, err := createTool.Execute(context.Background(), mustMarshal(t, graphDocParams{
		ID:    "g1",
		Nodes: []graphNode{{ID: "a", Op: "const", Value: 1}},
	}))
	if err != nil || result.IsError {
		t.Fatalf("create: err=%v result=%+v", err, result)
	}

	// Creating the same ID twice is an error.
	dupResult, err := createTool.Execute(context.Background(), mustMarshal(t, graphDocParams{ID: "g1"}))
	if err != nil {
		t.Fatalf("duplicate create: %v", err)
	}
	if !dupResult.IsError {
		t.Fatalf("expected error creating duplicate graph id")
	}

	getTool := &graphGetTool{svc}
	getResult, err := getTool.Execute(context.Background(), mustMarshal(t, graphIDParams{ID: "g1"}))
	if err != nil || getResult.IsError {
		t.Fatalf("get: err=%v result=%+v", err, getResult)
	}
	var doc graphDocument
	if err := json.Unmarshal([]byte(getResult.Content), &doc); err != nil {
		t.Fatalf("parse get result: %v", err)
	}
	if len(doc.Nodes) != 1 || doc.Nodes[0].ID != "a" {
		t.Fatalf("unexpected doc: %+v", doc)
	}

	updateTool := &graphUpdateTool{svc}
	updateResult, err := updateTool.Execute(context.Background(), mustMarshal(t, graphDocParams{
		ID:    "g1",
		Nodes: []graphNode{{ID: "a", Op: "const", Value: 9}},
	}))
	if err != nil || updateResult.IsError {
		t.Fatalf("update: err=%v result=%+v", err, updateResult)
	}

	deleteTool := &graphDeleteTool{svc}
	deleteResult, err := deleteTool.Execute(context.Background(), mustMarshal(t, graphIDParams{ID: "g1"}))
	if err != nil || deleteResult.IsError {
		t.Fatalf("delete: err=%v result=%+v", err, deleteResult)
	}

	getAfterDelete, err := getTool.Execute(context.Background(), mustMarshal(t, graphIDParams{ID: "g1"}))
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if !getAfterDelete.IsError {
		t.Fatalf("expected error fetching deleted graph")
	}
}

func TestGraphService_List(t *testing.T) {
	svc := newTestGraphService(t)
	createTool := &graphCreateTool{svc}
	for _, id := range []string{"b", "a", "c"} {
		if result, err := createTool.Execute(context.Background(), mustMarshal(t, graphDocParams{ID: id})); err != nil || result.IsError {
			t.Fatalf("create %s: err=%v result=%+v", id, err, result)
		}
	}

	listTool := &graphListTool{svc}
	result, err := listTool.Execute(context.Background(), nil)
	if err != nil || result.IsError {
		t.Fatalf("list: err=%v result=%+v", err, result)
	}
	var payload struct {
		IDs []string `json:"ids"`
	}
	if err := json.Unmarshal([]byte(result.Content), &payload); err != nil {
		t.Fatalf("parse list: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(payload.IDs) != len(want) {
		t.Fatalf("expected %v, got %v", want, payload.IDs)
	}
	for i, id := range want {
		if payload.IDs[i] != id {
			t.Fatalf("expected sorted ids %v, got %v", want, payload.IDs)
		}
	}
}

func TestGraphService_RunAddChain(t *testing.T) {
	svc := newTestGraphService(t)
	doc := &graphDocument{
		ID: "chain",
		Nodes: []graphNode{
			{ID: "x", Op: "const", Value: 2},
			{ID: "y", Op: "const", Value: 3},
			{ID: "sum1", Op: "add", Inputs: []string{"x", "y"}},
			{ID: "sum2", Op: "add", Inputs: []string{"sum1", "x"}},
		},
	}
	if err := svc.create(doc); err != nil {
		t.Fatalf("create: %v", err)
	}

	results, err := svc.run("chain")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if results["sum1"] != 5 {
		t.Fatalf("expected sum1=5, got %v", results["sum1"])
	}
	if results["sum2"] != 7 {
		t.Fatalf("expected sum2=7, got %v", results["sum2"])
	}
}

func TestGraphService_RunDetectsCycle(t *testing.T) {
	svc := newTestGraphService(t)
	doc := &graphDocument{
		ID: "cyclic",
		Nodes: []graphNode{
			{ID: "a", Op: "add", Inputs: []string{"b"}},
			{ID: "b", Op: "add", Inputs: []string{"a"}},
		},
	}
	if err := svc.create(doc); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.run("cyclic"); err == nil {
		t.Fatalf("expected cycle detection error")
	}
}

func TestGraphService_RunUnsupportedOp(t *testing.T) {
	svc := newTestGraphService(t)
	doc := &graphDocument{
		ID:    "bad",
		Nodes: []graphNode{{ID: "a", Op: "multiply", Value: 1}},
	}
	if err := svc.create(doc); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.run("bad"); err == nil {
		t.Fatalf("expected error for unsupported op")
	}
}

func TestGraphService_RunUnknownGraph(t *testing.T) {
	svc := newTestGraphService(t)
	if _, err := svc.run("missing"); err == nil {
		t.Fatalf("expected error for unknown graph")
	}
}
