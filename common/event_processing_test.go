package common

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func TestTaskParamProcessing(t *testing.T) {
	assert := assert.New(t)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetNewTaskProcessorInstance(ctxt, "testing", 4)
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.StopEventLoop())
	}()

	type testStruct1 struct{}
	type testStruct2 struct{}
	type testStruct3 struct{}

	// Case 0: no handler
	{
		assert.NotNil(uut.ProcessNewTaskParam("hello"))
	}

	// Case 1: add handlers
	{
		assert.Nil(uut.AddToTaskExecutionMap(
			reflect.TypeOf(testStruct1{}), func(p interface{}) error { return nil },
		))
		assert.Nil(uut.AddToTaskExecutionMap(
			reflect.TypeOf(testStruct3{}), func(p interface{}) error { return fmt.Errorf("dummy") },
		))
		assert.Nil(uut.ProcessNewTaskParam(testStruct1{}))
		assert.NotNil(uut.ProcessNewTaskParam(testStruct2{}))
		assert.NotNil(uut.ProcessNewTaskParam(&testStruct1{}))
		assert.NotNil(uut.ProcessNewTaskParam(testStruct3{}))
	}

	// Case 2: pointer types are distinct entries
	{
		assert.Nil(uut.AddToTaskExecutionMap(
			reflect.TypeOf(&testStruct2{}), func(p interface{}) error { return nil },
		))
		assert.Nil(uut.ProcessNewTaskParam(&testStruct2{}))
		assert.NotNil(uut.ProcessNewTaskParam(testStruct2{}))
	}
}

func TestTaskProcessorOrdering(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	uut, err := GetNewTaskProcessorInstance(ctxt, "testing", 4)
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.StopEventLoop())
	}()

	type counter struct{ value int }

	seen := make(chan int, 20)
	assert.Nil(uut.AddToTaskExecutionMap(reflect.TypeOf(counter{}), func(p interface{}) error {
		seen <- p.(counter).value
		return nil
	}))
	assert.Nil(uut.StartEventLoop(&wg))

	for itr := 0; itr < 20; itr++ {
		useContext, lclCancel := context.WithTimeout(ctxt, time.Second)
		assert.Nil(uut.Submit(useContext, counter{value: itr}))
		lclCancel()
	}

	for itr := 0; itr < 20; itr++ {
		select {
		case v := <-seen:
			assert.Equal(itr, v)
		case <-time.After(time.Second):
			assert.Failf("timeout", "did not process task %d", itr)
			return
		}
	}
}

func TestTaskProcessorSubmitAfterStop(t *testing.T) {
	assert := assert.New(t)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	uut, err := GetNewTaskProcessorInstance(ctxt, "testing", 1)
	assert.Nil(err)

	// Fill the buffer; nothing is draining it
	assert.Nil(uut.Submit(ctxt, "first"))

	// Caller context times out while buffer is full
	{
		useContext, lclCancel := context.WithTimeout(ctxt, time.Millisecond*20)
		assert.NotNil(uut.Submit(useContext, "second"))
		lclCancel()
	}

	// Processor stopped
	assert.Nil(uut.StopEventLoop())
	assert.NotNil(uut.Submit(ctxt, "third"))

	// Invalid buffer
	_, err = GetNewTaskProcessorInstance(ctxt, "testing", 0)
	assert.NotNil(err)
}

func TestTaskProcessorTrySubmit(t *testing.T) {
	assert := assert.New(t)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	uut, err := GetNewTaskProcessorInstance(ctxt, "testing", 1)
	assert.Nil(err)

	assert.Nil(uut.TrySubmit("first"))

	// Full buffer returns at once
	start := time.Now()
	err = uut.TrySubmit("second")
	assert.ErrorIs(err, ErrTaskBufferFull)
	assert.Less(time.Since(start), time.Millisecond*100)

	assert.Nil(uut.StopEventLoop())
	err = uut.TrySubmit("third")
	assert.NotNil(err)
	assert.NotErrorIs(err, ErrTaskBufferFull)
}
