package utils

import (
	"time"

	"bitbucket.org/mmdatafocus/audits_backend/config"
)

/* Redis */

// reference data (framework templates) changes rarely; cache with lifespan
func typeHasExpiration(typeName string) bool {
	expirableTypes := map[string]bool{
		"Standard":      true,
		"MaturityLevel": true,
	}
	return expirableTypes[typeName]
}

// store list keyed by owning scope (framework id, business id, ...)
func StoreRedisList[T any](obj any, scope string) error {
	typeName := GetTypeName[T]()
	key := typeName + "List:" + scope

	var duration time.Duration
	if typeHasExpiration(typeName) {
		duration = GetCacheLifespan()
	}
	return config.SetRedisObject(key, &obj, duration)
}

// get from redis
// returns nil if does not exist
func RetrieveRedisList[T any](scope string) ([]*T, error) {
	key := GetTypeName[T]() + "List:" + scope

	var result []*T
	exists, err := config.GetRedisObject(key, &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

// clear list, TypeList:$scope
func RemoveRedisList[T any](scope string) error {
	var key string = GetTypeName[T]() + "List:" + scope
	return config.RemoveRedisKey(key)
}
