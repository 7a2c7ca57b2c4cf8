package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/chengjon/taskmaster-pro-sub002/internal/tasks"
	"github.com/chengjon/taskmaster-pro-sub002/internal/usage"
)

const (
	tasksCollection = "tasks"
	usageCollection = "usage_records"
)

// mongoStorage implements Storage for MongoDB.
type mongoStorage struct {
	client   *mongo.Client
	database *mongo.Database
}

// taskDoc is the BSON representation of a task.
type taskDoc struct {
	ID           string         `bson:"_id"`
	Title        string         `bson:"title"`
	Description  string         `bson:"description,omitempty"`
	Status       string         `bson:"status"`
	Priority     string         `bson:"priority"`
	ProjectID    string         `bson:"project_id,omitempty"`
	CreatedAt    time.Time      `bson:"created_at"`
	UpdatedAt    time.Time      `bson:"updated_at"`
	Subtasks     []subTaskDoc   `bson:"subtasks"`
	Dependencies []string       `bson:"dependencies,omitempty"`
	Metadata     map[string]any `bson:"metadata,omitempty"`
}

type subTaskDoc struct {
	ID          string    `bson:"id"`
	ParentID    string    `bson:"parent_id"`
	Title       string    `bson:"title"`
	Description string    `bson:"description,omitempty"`
	Status      string    `bson:"status"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func toTaskDoc(task *tasks.Task) taskDoc {
	doc := taskDoc{
		ID:           task.ID,
		Title:        task.Title,
		Description:  task.Description,
		Status:       string(task.Status),
		Priority:     string(task.Priority),
		ProjectID:    task.ProjectID,
		CreatedAt:    task.CreatedAt,
		UpdatedAt:    task.UpdatedAt,
		Subtasks:     make([]subTaskDoc, 0, len(task.Subtasks)),
		Dependencies: task.Dependencies,
		Metadata:     task.Metadata,
	}
	for _, st := range task.Subtasks {
		doc.Subtasks = append(doc.Subtasks, subTaskDoc{
			ID:          st.ID,
			ParentID:    st.ParentID,
			Title:       st.Title,
			Description: st.Description,
			Status:      string(st.Status),
			CreatedAt:   st.CreatedAt,
			UpdatedAt:   st.UpdatedAt,
		})
	}
	return doc
}

func (d taskDoc) toTask() *tasks.Task {
	task := &tasks.Task{
		ID:           d.ID,
		Title:        d.Title,
		Description:  d.Description,
		Status:       tasks.Status(d.Status),
		Priority:     tasks.Priority(d.Priority),
		ProjectID:    d.ProjectID,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		Subtasks:     make([]tasks.SubTask, 0, len(d.Subtasks)),
		Dependencies: d.Dependencies,
		Metadata:     d.Metadata,
	}
	for _, st := range d.Subtasks {
		task.Subtasks = append(task.Subtasks, tasks.SubTask{
			ID:          st.ID,
			ParentID:    st.ParentID,
			Title:       st.Title,
			Description: st.Description,
			Status:      tasks.Status(st.Status),
			CreatedAt:   st.CreatedAt,
			UpdatedAt:   st.UpdatedAt,
		})
	}
	return task
}

// NewMongoDB creates a MongoDB storage connection and verifies it with a ping.
func NewMongoDB(ctx context.Context, url, database string) (Storage, error) {
	if url == "" {
		return nil, fmt.Errorf("MongoDB URL is required")
	}
	if database == "" {
		database = "taskmaster"
	}

	clientOpts := options.Client().ApplyURI(url)

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &mongoStorage{
		client:   client,
		database: client.Database(database),
	}, nil
}

func (s *mongoStorage) Type() string { return TypeMongoDB }

func (s *mongoStorage) Close() error {
	return s.client.Disconnect(context.Background())
}

func (s *mongoStorage) tasks() *mongo.Collection {
	return s.database.Collection(tasksCollection)
}

func (s *mongoStorage) CreateTask(ctx context.Context, task *tasks.Task) error {
	if _, err := s.tasks().InsertOne(ctx, toTaskDoc(task)); err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (s *mongoStorage) GetTask(ctx context.Context, id string) (*tasks.Task, error) {
	var doc taskDoc
	err := s.tasks().FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, tasks.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return doc.toTask(), nil
}

func (s *mongoStorage) ListTasks(ctx context.Context, filter tasks.Filter) ([]*tasks.Task, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}
	if filter.ProjectID != "" {
		query["project_id"] = filter.ProjectID
	}

	cur, err := s.tasks().Find(ctx, query, options.Find().SetSort(bson.M{"created_at": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer cur.Close(ctx)

	var out []*tasks.Task
	for cur.Next(ctx) {
		var doc taskDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode task: %w", err)
		}
		out = append(out, doc.toTask())
	}
	return out, cur.Err()
}

func (s *mongoStorage) UpdateTask(ctx context.Context, task *tasks.Task) error {
	res, err := s.tasks().ReplaceOne(ctx, bson.M{"_id": task.ID}, toTaskDoc(task))
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if res.MatchedCount == 0 {
		return tasks.ErrNotFound
	}
	return nil
}

func (s *mongoStorage) DeleteTask(ctx context.Context, id string) error {
	res, err := s.tasks().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if res.DeletedCount == 0 {
		return tasks.ErrNotFound
	}
	return nil
}

func (s *mongoStorage) InsertUsage(ctx context.Context, rec *usage.Record) error {
	doc := bson.M{
		"_id":               rec.ID,
		"provider":          rec.Provider,
		"model":             rec.Model,
		"operation":         rec.Operation,
		"prompt_tokens":     rec.PromptTokens,
		"completion_tokens": rec.CompletionTokens,
		"total_tokens":      rec.TotalTokens,
		"created_at":        rec.CreatedAt,
	}
	if _, err := s.database.Collection(usageCollection).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}
