package jobstore

import (
	"encoding/json"
	"os"
)

func marshalJob(job *Job) ([]byte, error) {
	return json.Marshal(job)
}

func unmarshalJob(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func mkdirAll(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
