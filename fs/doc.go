// Package fs implements the trunk-ID registry, the per-store-path trunk
// allocator, and the storage allocator manager that routes allocation
// requests between the write-cache and store-path allocator sets (spec
// §4.A-§4.C). Grounded on the teacher's fs/mountfs.go mountpath-management
// style and on original_source/src/server/storage/storage_allocator.h.
/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package fs
