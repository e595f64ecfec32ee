package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
)

// 文件（目录）路径或MongoDB的{db}.{col}
type Path struct {
	File string
	DB   string
	Coll string
}

func NewPath(filePathOrColl string) (*Path, error) {
	// 检查filePathOrColl是否作为文件存在
	if _, err := os.Stat(filePathOrColl); err == nil {
		return &Path{
			File: filePathOrColl,
		}, nil
	}
	dbDotColl := strings.TrimSpace(filePathOrColl)
	if dbDotColl == "" {
		return nil, nil
	}
	splitted := strings.Split(dbDotColl, ".")
	if len(splitted) != 2 || splitted[0] == "" || splitted[1] == "" {
		return nil, fmt.Errorf("dbDotColl is invalid: %s", dbDotColl)
	}
	return &Path{
		DB:   splitted[0],
		Coll: splitted[1],
	}, nil
}

// 输出位置，目录可以尚不存在：含路径分隔符或不含"."时视为目录
func NewOutputPath(dirOrColl string) (*Path, error) {
	s := strings.TrimSpace(dirOrColl)
	if s == "" {
		return nil, nil
	}
	if strings.ContainsRune(s, filepath.Separator) || !strings.Contains(s, ".") {
		return &Path{File: s}, nil
	}
	return NewPath(s)
}

func (p *Path) IsFile() bool {
	return p.File != ""
}

func (p *Path) Collection(client *mongo.Client) *mongo.Collection {
	return client.Database(p.DB).Collection(p.Coll)
}

func (p *Path) String() string {
	if p.File != "" {
		// return absolute path
		path, err := filepath.Abs(p.File)
		if err != nil {
			log.Panicf("failed to get absolute path of %s: %v", p.File, err)
		}
		return path
	}
	return p.DB + "." + p.Coll
}
