package cmn

import jsoniter "github.com/json-iterator/go"

// JSON is the codec every subsystem uses for wire and on-disk
// (de)serialization, grounded on the teacher's use of json-iterator in
// cmn/config.go in place of encoding/json on hot paths (metadata merges,
// capability maps, node/pod rows).
var JSON = jsoniter.ConfigCompatibleWithStandardLibrary

func MarshalJSON(v interface{}) ([]byte, error) { return JSON.Marshal(v) }

func UnmarshalJSON(data []byte, v interface{}) error { return JSON.Unmarshal(data, v) }

func MarshalJSONString(v interface{}) (string, error) {
	b, err := JSON.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
