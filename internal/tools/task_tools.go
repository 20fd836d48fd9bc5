package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/taskwarden/taskwarden/internal/taskstore"
)

// RegisterTaskTools adds the four task-management tools backed by store.
func RegisterTaskTools(r *Registry, store *taskstore.Store) error {
	tools := []*Tool{
		{
			Name:        "create_task",
			Description: "Create a new task for the user. Use this when the user asks to create, add, or make a new task.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title": map[string]any{
						"type":        "string",
						"description": "The task title (1-500 characters). Extract the main task description from the user's message.",
					},
					"description": map[string]any{
						"type":        "string",
						"description": "Optional detailed description of the task. Include any additional context or details mentioned by the user.",
					},
				},
				"required": []string{"title"},
			},
			Handler: func(ctx context.Context, ownerID int64, args map[string]any) (map[string]any, error) {
				title, _ := args["title"].(string)
				description, _ := args["description"].(string)

				task, err := store.Create(ownerID, title, description)
				if err != nil {
					return nil, taskErr(err)
				}

				return map[string]any{
					"task_id":     task.ID,
					"title":       task.Title,
					"description": task.Description,
					"completed":   task.Completed,
					"created_at":  task.CreatedAt,
				}, nil
			},
		},
		{
			Name:        "list_tasks",
			Description: "List all tasks for the user. Use this when the user asks to see, show, list, or view their tasks.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"completed": map[string]any{
						"type":        "boolean",
						"description": "Filter by completion status. If omitted, return all tasks.",
					},
				},
			},
			Handler: func(ctx context.Context, ownerID int64, args map[string]any) (map[string]any, error) {
				var completed *bool
				if c, ok := args["completed"].(bool); ok {
					completed = &c
				}

				tasks, err := store.List(ownerID, completed)
				if err != nil {
					return nil, taskErr(err)
				}

				list := make([]map[string]any, 0, len(tasks))
				for _, t := range tasks {
					list = append(list, map[string]any{
						"task_id":     t.ID,
						"title":       t.Title,
						"description": t.Description,
						"completed":   t.Completed,
						"created_at":  t.CreatedAt,
						"updated_at":  t.UpdatedAt,
					})
				}

				return map[string]any{
					"tasks":       list,
					"total_count": len(list),
				}, nil
			},
		},
		{
			Name:        "update_task",
			Description: "Update an existing task. Use this when the user asks to update, modify, change, complete, or mark a task as done.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"task_id": map[string]any{
						"type":        "integer",
						"description": "The ID of the task to update. If the user refers to a task by title, you must first call list_tasks to find the task_id.",
					},
					"title": map[string]any{
						"type":        "string",
						"description": "New task title (1-500 characters). Only provide if the user wants to change the title.",
					},
					"description": map[string]any{
						"type":        "string",
						"description": "New task description. Only provide if the user wants to change the description.",
					},
					"completed": map[string]any{
						"type":        "boolean",
						"description": "New completion status. Set to true when the user says 'complete', 'done', 'finish', or 'mark as done'.",
					},
				},
				"required": []string{"task_id"},
			},
			Handler: func(ctx context.Context, ownerID int64, args map[string]any) (map[string]any, error) {
				taskID, err := intArg(args, "task_id")
				if err != nil {
					return nil, err
				}

				var u taskstore.Update
				if title, ok := args["title"].(string); ok {
					u.Title = &title
				}
				if desc, ok := args["description"].(string); ok {
					u.Description = &desc
				}
				if completed, ok := args["completed"].(bool); ok {
					u.Completed = &completed
				}

				task, err := store.Apply(taskID, ownerID, u)
				if err != nil {
					return nil, taskErrFor(err, taskID)
				}

				return map[string]any{
					"task_id":     task.ID,
					"title":       task.Title,
					"description": task.Description,
					"completed":   task.Completed,
					"updated_at":  task.UpdatedAt,
				}, nil
			},
		},
		{
			Name:        "delete_task",
			Description: "Delete a task. Use this when the user asks to delete, remove, or get rid of a task.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"task_id": map[string]any{
						"type":        "integer",
						"description": "The ID of the task to delete. If the user refers to a task by title, you must first call list_tasks to find the task_id.",
					},
				},
				"required": []string{"task_id"},
			},
			Handler: func(ctx context.Context, ownerID int64, args map[string]any) (map[string]any, error) {
				taskID, err := intArg(args, "task_id")
				if err != nil {
					return nil, err
				}

				if err := store.Delete(taskID, ownerID); err != nil {
					return nil, taskErrFor(err, taskID)
				}

				return map[string]any{
					"success":         true,
					"message":         "Task deleted successfully",
					"deleted_task_id": taskID,
				}, nil
			},
		},
	}

	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// intArg extracts an integer argument. JSON numbers arrive as float64.
func intArg(args map[string]any, key string) (int64, error) {
	switch v := args[key].(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("%s must be an integer", key)
	}
}

// taskErr rewords store errors for the model without leaking internals.
func taskErr(err error) error {
	if errors.Is(err, taskstore.ErrValidation) {
		return err
	}
	if errors.Is(err, taskstore.ErrNotFound) {
		return err
	}
	return fmt.Errorf("task storage unavailable")
}

// taskErrFor names the task id in not-found errors so the model can tell
// the user which reference was wrong.
func taskErrFor(err error, taskID int64) error {
	if errors.Is(err, taskstore.ErrNotFound) {
		return fmt.Errorf("task %d not found", taskID)
	}
	return taskErr(err)
}
