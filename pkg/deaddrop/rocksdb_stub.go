// +build !rocksdb

package deaddrop

import "errors"

// RocksDBStorage stub used when built without the rocksdb tag.
type RocksDBStorage struct{}

func NewRocksDBStorage(path string) (*RocksDBStorage, error) {
	return nil, errors.New("deaddrop: rocksdb support not compiled in, rebuild with '-tags rocksdb'")
}

func (r *RocksDBStorage) Store(key string, value []byte) error {
	return errors.New("deaddrop: rocksdb not available")
}

func (r *RocksDBStorage) Retrieve(key string) ([]byte, error) {
	return nil, errors.New("deaddrop: rocksdb not available")
}

func (r *RocksDBStorage) Delete(key string) error {
	return errors.New("deaddrop: rocksdb not available")
}

func (r *RocksDBStorage) List(prefix string) ([]string, error) {
	return nil, errors.New("deaddrop: rocksdb not available")
}

func (r *RocksDBStorage) Close() error {
	return nil
}
