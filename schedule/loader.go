package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CLASS_STOP      = "stop"
	CLASS_ROUTE     = "route"
	CLASS_TRIP      = "trip"
	CLASS_STOP_TIME = "stop_time"
	CLASS_FOOTPATH  = "footpath"
)

// 数据库中的一条记录：{class, data}
type document[T any] struct {
	Class string `bson:"class"`
	Data  T      `bson:"data"`
}

func LoadFile(path string) (Tables, error) {
	var t Tables
	data, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("decode %s: %w", path, err)
	}
	log.Infof("load schedule from file %s", path)
	return t, nil
}

func SaveFile(path string, t Tables) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func findClass[T any](ctx context.Context, coll *mongo.Collection, class string) ([]T, error) {
	opts := options.Find().SetSort(bson.D{{Key: "data.id", Value: 1}})
	cur, err := coll.Find(ctx, bson.M{"class": class}, opts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", class, err)
	}
	defer cur.Close(ctx)
	var docs []document[T]
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", class, err)
	}
	return lo.Map(docs, func(d document[T], _ int) T { return d.Data }), nil
}

// 从mongodb读取时刻表，集合中每条记录为{class, data}
func LoadMongo(ctx context.Context, coll *mongo.Collection) (t Tables, err error) {
	log.Infof("load schedule from mongodb %s.%s", coll.Database().Name(), coll.Name())
	if t.Stops, err = findClass[Stop](ctx, coll, CLASS_STOP); err != nil {
		return
	}
	if t.Routes, err = findClass[Route](ctx, coll, CLASS_ROUTE); err != nil {
		return
	}
	if t.Trips, err = findClass[Trip](ctx, coll, CLASS_TRIP); err != nil {
		return
	}
	if t.StopTimes, err = findClass[StopTime](ctx, coll, CLASS_STOP_TIME); err != nil {
		return
	}
	t.FootPaths, err = findClass[FootPath](ctx, coll, CLASS_FOOTPATH)
	return
}

func wrap[T any](class string, items []T) []any {
	return lo.Map(items, func(item T, _ int) any { return document[T]{Class: class, Data: item} })
}

// 覆盖写入mongodb
func StoreMongo(ctx context.Context, coll *mongo.Collection, t Tables) error {
	if _, err := coll.DeleteMany(ctx, bson.M{}); err != nil {
		return err
	}
	docs := make([]any, 0, len(t.Stops)+len(t.Routes)+len(t.Trips)+len(t.StopTimes)+len(t.FootPaths))
	docs = append(docs, wrap(CLASS_STOP, t.Stops)...)
	docs = append(docs, wrap(CLASS_ROUTE, t.Routes)...)
	docs = append(docs, wrap(CLASS_TRIP, t.Trips)...)
	docs = append(docs, wrap(CLASS_STOP_TIME, t.StopTimes)...)
	docs = append(docs, wrap(CLASS_FOOTPATH, t.FootPaths)...)
	if len(docs) == 0 {
		return nil
	}
	_, err := coll.InsertMany(ctx, docs)
	return err
}
