//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package protocol

import (
	"math/bits"
	"sync"
)

// 2**26 covers MaxTupleSize.
const numClasses = 27

// classes[i] stores byte slices of capacity 2**i.
var classes [numClasses]sync.Pool

func init() {
	for i := 0; i < numClasses; i++ {
		size := 1 << i
		classes[i].New = func() any {
			return make([]byte, 0, size)
		}
	}
}

// malloc returns a slice of length n whose capacity is the next power of two.
func malloc(n int) []byte {
	idx := classIndex(n)
	if idx >= numClasses {
		return make([]byte, n)
	}
	return classes[idx].Get().([]byte)[:n]
}

// free recycles p. Slices not obtained from malloc are dropped.
func free(p []byte) {
	c := cap(p)
	if c == 0 || c&(c-1) != 0 {
		return
	}
	idx := classIndex(c)
	if idx >= numClasses {
		return
	}
	classes[idx].Put(p[:0])
}

func classIndex(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}
