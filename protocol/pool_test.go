// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMalloc(t *testing.T) {
	s := malloc(400)
	assert.Equal(t, 400, len(s))
	assert.Equal(t, 512, cap(s))
	free(s)

	s = malloc(4096)
	assert.Equal(t, 4096, len(s))
	assert.Equal(t, 4096, cap(s))
	free(s)

	s = malloc(0)
	assert.Equal(t, 0, len(s))
	free(s)

	big := malloc(1 << 27)
	assert.Equal(t, 1<<27, len(big))
	free(big)
}

func TestClassIndex(t *testing.T) {
	assert.Equal(t, 0, classIndex(0))
	assert.Equal(t, 0, classIndex(1))
	assert.Equal(t, 1, classIndex(2))
	assert.Equal(t, 2, classIndex(3))
	assert.Equal(t, 3, classIndex(5))
	assert.Equal(t, 12, classIndex(4096))
	assert.Equal(t, 13, classIndex(4097))
}

func BenchmarkTupleAlloc(b *testing.B) {
	key, value := []byte("benchmark-key"), make([]byte, 1024)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		NewTuple(key, value).Release()
	}
}
